package rbac

import "testing"

type issueRes struct{ owner, assignee string }

func (i issueRes) OwnerID() string    { return i.owner }
func (i issueRes) AssigneeID() string { return i.assignee }

type commentRes struct{ author string }

func (c commentRes) OwnerID() string { return c.author }

type noteRes struct{ recipient string }

func (n noteRes) OwnerID() string { return n.recipient }
func (n noteRes) Personal() bool  { return true }

func TestCapabilities(t *testing.T) {
	reporter := Actor{ID: "u-reporter", Role: RoleCitizen}
	stranger := Actor{ID: "u-stranger", Role: RoleCitizen}
	admin := Actor{ID: "u-admin", Role: RoleAdmin}
	assigned := Actor{ID: "u-res-a", Role: RoleResolver, Verified: true}
	otherResolver := Actor{ID: "u-res-b", Role: RoleResolver, Verified: true}
	unverified := Actor{ID: "u-res-c", Role: RoleResolver}
	anonymous := Actor{}

	issue := issueRes{owner: "u-reporter", assignee: "u-res-a"}
	comment := commentRes{author: "u-stranger"}
	note := noteRes{recipient: "u-reporter"}

	cases := []struct {
		name     string
		actor    Actor
		resource Ownable
		cap      Capability
		allow    bool
	}{
		{"anonymous views issue", anonymous, issue, CapView, true},
		{"anonymous cannot engage", anonymous, issue, CapEngage, false},
		{"reporter edits own issue", reporter, issue, CapEdit, true},
		{"reporter cannot transition", reporter, issue, CapTransition, false},
		{"stranger cannot transition", stranger, issue, CapTransition, false},
		{"stranger cannot edit", stranger, issue, CapEdit, false},
		{"stranger engages", stranger, issue, CapEngage, true},
		{"admin transitions", admin, issue, CapTransition, true},
		{"admin assigns", admin, issue, CapAssign, true},
		{"admin cannot edit reporter content", admin, issue, CapEdit, false},
		{"admin deletes issue", admin, issue, CapDelete, true},
		{"assigned resolver transitions", assigned, issue, CapTransition, true},
		{"assigned resolver attaches evidence", assigned, issue, CapAttachEvidence, true},
		{"other resolver cannot transition", otherResolver, issue, CapTransition, false},
		{"other resolver may attempt accept", otherResolver, issue, CapAccept, true},
		{"other resolver responds", otherResolver, issue, CapRespond, true},
		{"unverified resolver cannot accept", unverified, issue, CapAccept, false},
		{"unverified resolver cannot respond", unverified, issue, CapRespond, false},
		{"resolver cannot assign", assigned, issue, CapAssign, false},
		{"author deletes comment", stranger, comment, CapDelete, true},
		{"admin deletes comment", admin, comment, CapDelete, true},
		{"reporter cannot delete others comment", reporter, comment, CapDelete, false},
		{"recipient reads notification", reporter, note, CapEdit, true},
		{"admin cannot see notification", admin, note, CapView, false},
		{"stranger cannot delete notification", stranger, note, CapDelete, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Capabilities(tc.actor, tc.resource).Has(tc.cap)
			if got != tc.allow {
				t.Fatalf("Capabilities(%+v).Has(%s) = %v, want %v", tc.actor, tc.cap, got, tc.allow)
			}
		})
	}
}

func TestCapSetString(t *testing.T) {
	set := CapSet(0).With(CapView, CapDelete)
	if got := set.String(); got != "view,delete" {
		t.Fatalf("String() = %q", got)
	}
}
