package rbac

import "strings"

type Capability uint32

const (
	CapView Capability = 1 << iota
	CapEngage
	CapEdit
	CapDelete
	CapTransition
	CapAssign
	CapAccept
	CapRespond
	CapAttachEvidence
)

var capabilityNames = []struct {
	cap  Capability
	name string
}{
	{CapView, "view"},
	{CapEngage, "engage"},
	{CapEdit, "edit"},
	{CapDelete, "delete"},
	{CapTransition, "transition"},
	{CapAssign, "assign"},
	{CapAccept, "accept"},
	{CapRespond, "respond"},
	{CapAttachEvidence, "attach_evidence"},
}

func (c Capability) String() string {
	for _, item := range capabilityNames {
		if item.cap == c {
			return item.name
		}
	}
	return "unknown"
}

type CapSet uint32

func (s CapSet) Has(c Capability) bool {
	return uint32(s)&uint32(c) != 0
}

func (s CapSet) With(caps ...Capability) CapSet {
	for _, c := range caps {
		s |= CapSet(c)
	}
	return s
}

func (s CapSet) String() string {
	var names []string
	for _, item := range capabilityNames {
		if s.Has(item.cap) {
			names = append(names, item.name)
		}
	}
	return strings.Join(names, ",")
}

// Actor is the authenticated caller. The zero value is an anonymous visitor.
type Actor struct {
	ID       string
	Role     Role
	Verified bool
}

func (a Actor) Authenticated() bool { return a.ID != "" }

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// VerifiedResolver reports whether the actor may use resolver-only actions.
func (a Actor) VerifiedResolver() bool {
	return a.Role == RoleResolver && a.Verified
}

type Ownable interface {
	OwnerID() string
}

// Assignable resources carry a workflow assignee (issues).
type Assignable interface {
	Ownable
	AssigneeID() string
}

// Personal resources are visible to their owner only (notifications).
type Personal interface {
	Ownable
	Personal() bool
}

// Capabilities resolves what actor may do with resource.
func Capabilities(actor Actor, resource Ownable) CapSet {
	var caps CapSet
	if resource == nil {
		return caps
	}
	owner := actor.Authenticated() && resource.OwnerID() == actor.ID

	if p, ok := resource.(Personal); ok && p.Personal() {
		if owner {
			caps = caps.With(CapView, CapEdit, CapDelete)
		}
		return caps
	}

	caps = caps.With(CapView)
	if !actor.Authenticated() {
		return caps
	}
	caps = caps.With(CapEngage)
	if owner {
		caps = caps.With(CapEdit, CapDelete)
	}
	if actor.IsAdmin() {
		caps = caps.With(CapDelete)
	}

	issue, ok := resource.(Assignable)
	if !ok {
		return caps
	}
	switch {
	case actor.IsAdmin():
		caps = caps.With(CapTransition, CapAssign, CapRespond, CapAttachEvidence)
	case actor.VerifiedResolver():
		caps = caps.With(CapAccept, CapRespond)
		if issue.AssigneeID() == actor.ID {
			caps = caps.With(CapTransition, CapAttachEvidence)
		}
	}
	return caps
}
