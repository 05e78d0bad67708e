package app

import (
	"context"
	"errors"
	"strings"

	"townsquare/api/internal/rbac"
	"townsquare/api/internal/store"
)

// loadIssue maps a missing issue to a 404.
func (s *Service) loadIssue(ctx context.Context, id, viewerID string, lock bool) (store.Issue, error) {
	var (
		issue store.Issue
		err   error
	)
	if lock {
		issue, err = s.store.GetIssueForUpdate(ctx, id)
	} else {
		issue, err = s.store.GetIssue(ctx, id, viewerID)
	}
	if errors.Is(err, store.ErrNotFound) {
		return store.Issue{}, notFoundError("Issue")
	}
	return issue, err
}

// Transition moves an issue to status. Every accepted call appends exactly one
// timeline row, even when the status does not change.
func (s *Service) Transition(ctx context.Context, actor rbac.Actor, issueID, status, note string) (store.Issue, error) {
	status = strings.TrimSpace(status)
	if !store.ValidStatus(status) {
		return store.Issue{}, fieldError("status", "status must be one of: reported, acknowledged, in-progress, resolved")
	}
	if !actor.Authenticated() {
		return store.Issue{}, unauthorizedError()
	}
	note = strings.TrimSpace(note)
	if note == "" {
		note = "Status changed to " + store.StatusLabel(status)
	}

	var previous string
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		issue, err := s.loadIssue(ctx, issueID, "", true)
		if err != nil {
			return err
		}
		if !rbac.Capabilities(actor, issue).Has(rbac.CapTransition) {
			return permissionError("Only an admin or the assigned verified resolver can change the status")
		}
		previous = issue.Status

		if err := s.store.SetIssueStatus(ctx, issue.ID, status, actor.ID); err != nil {
			return err
		}
		if _, err := s.store.AppendTimeline(ctx, store.TimelineEntry{
			IssueID: issue.ID,
			Status:  status,
			Note:    note,
			ActorID: stringPtr(actor.ID),
		}); err != nil {
			return err
		}
		if err := s.notifyStatusUpdate(ctx, issue, status, actor.ID); err != nil {
			return err
		}
		if status == store.StatusResolved && previous != store.StatusResolved {
			return s.notifyResolution(ctx, issue, actor.ID)
		}
		return nil
	})
	if err != nil {
		return store.Issue{}, err
	}

	s.metrics.IncTransition(status)
	s.log.Info().
		Str("issue_id", issueID).
		Str("from", previous).
		Str("to", status).
		Str("actor_id", actor.ID).
		Msg("issue status changed")

	issue, err := s.loadIssue(ctx, issueID, actor.ID, false)
	if err != nil {
		return store.Issue{}, err
	}
	s.indexIssue(issue)
	return issue, nil
}

// Assign hands an issue to a resolver. Admin only.
func (s *Service) Assign(ctx context.Context, actor rbac.Actor, issueID, resolverID string) (store.Issue, error) {
	resolverID = strings.TrimSpace(resolverID)
	if resolverID == "" {
		return store.Issue{}, fieldError("resolver_id", "resolver_id is required")
	}
	if !actor.Authenticated() {
		return store.Issue{}, unauthorizedError()
	}

	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		issue, err := s.loadIssue(ctx, issueID, "", true)
		if err != nil {
			return err
		}
		if !rbac.Capabilities(actor, issue).Has(rbac.CapAssign) {
			return permissionError("Only admins can assign issues")
		}

		resolver, err := s.store.GetUserByID(ctx, resolverID)
		if errors.Is(err, store.ErrNotFound) {
			return notFoundError("Resolver")
		}
		if err != nil {
			return err
		}
		if rbac.Normalize(resolver.Role) != rbac.RoleResolver {
			return fieldError("resolver_id", "user is not a resolver")
		}
		departmentID, err := s.resolverDepartment(ctx, resolver.ID)
		if err != nil {
			return err
		}

		if err := s.store.AssignIssue(ctx, issue.ID, resolver.ID, departmentID); err != nil {
			return err
		}
		if _, err := s.store.AppendTimeline(ctx, store.TimelineEntry{
			IssueID: issue.ID,
			Status:  issue.Status,
			Note:    "Assigned to " + resolver.FullName,
			ActorID: stringPtr(actor.ID),
		}); err != nil {
			return err
		}
		return s.notifyAssignment(ctx, issue, resolver.ID, actor.ID)
	})
	if err != nil {
		return store.Issue{}, err
	}
	return s.loadIssue(ctx, issueID, actor.ID, false)
}

// Accept lets a verified resolver claim an unassigned issue. The claim is a
// conditional update so concurrent accepts have exactly one winner.
func (s *Service) Accept(ctx context.Context, actor rbac.Actor, issueID string) (store.Issue, error) {
	if !actor.Authenticated() {
		return store.Issue{}, unauthorizedError()
	}

	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		issue, err := s.loadIssue(ctx, issueID, "", false)
		if err != nil {
			return err
		}
		if !rbac.Capabilities(actor, issue).Has(rbac.CapAccept) {
			return permissionError("Only verified resolvers can accept issues")
		}
		resolver, err := s.store.GetUserByID(ctx, actor.ID)
		if err != nil {
			return err
		}
		departmentID, err := s.resolverDepartment(ctx, actor.ID)
		if err != nil {
			return err
		}

		claimed, err := s.store.ClaimIssue(ctx, issue.ID, actor.ID, departmentID)
		if err != nil {
			return err
		}
		if !claimed {
			exists, err := s.store.IssueExists(ctx, issue.ID)
			if err != nil {
				return err
			}
			if !exists {
				return notFoundError("Issue")
			}
			s.metrics.IncAcceptConflict()
			return conflictError(codeAlreadyAssigned, "Issue is already assigned to a resolver")
		}

		_, err = s.store.AppendTimeline(ctx, store.TimelineEntry{
			IssueID: issue.ID,
			Status:  issue.Status,
			Note:    "Accepted by " + resolver.FullName,
			ActorID: stringPtr(actor.ID),
		})
		return err
	})
	if err != nil {
		return store.Issue{}, err
	}
	return s.loadIssue(ctx, issueID, actor.ID, false)
}

func (s *Service) resolverDepartment(ctx context.Context, userID string) (*string, error) {
	profile, err := s.store.GetResolverProfile(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if profile.DepartmentID == "" {
		return nil, nil
	}
	return stringPtr(profile.DepartmentID), nil
}
