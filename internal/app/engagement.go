package app

import (
	"context"
	"errors"
	"strings"

	"townsquare/api/internal/rbac"
	"townsquare/api/internal/store"
	"townsquare/api/internal/validation"
)

type UpvoteResult struct {
	Upvoted bool `json:"upvoted"`
	Upvotes int  `json:"upvotes"`
}

type BookmarkResult struct {
	Bookmarked bool `json:"bookmarked"`
}

type ShareResult struct {
	Shares int `json:"shares"`
}

type LikeResult struct {
	Liked bool `json:"liked"`
	Likes int  `json:"likes"`
}

func (s *Service) engageableIssue(ctx context.Context, actor rbac.Actor, issueID string) (store.Issue, error) {
	if !actor.Authenticated() {
		return store.Issue{}, unauthorizedError()
	}
	issue, err := s.loadIssue(ctx, issueID, "", false)
	if err != nil {
		return store.Issue{}, err
	}
	if !rbac.Capabilities(actor, issue).Has(rbac.CapEngage) {
		return store.Issue{}, permissionError("")
	}
	return issue, nil
}

// ToggleUpvote flips the actor's upvote. The count is recomputed from the
// upvotes table, so two toggles always restore the original value.
func (s *Service) ToggleUpvote(ctx context.Context, actor rbac.Actor, issueID string) (UpvoteResult, error) {
	var result UpvoteResult
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		issue, err := s.engageableIssue(ctx, actor, issueID)
		if err != nil {
			return err
		}
		result.Upvoted, result.Upvotes, err = s.store.ToggleUpvote(ctx, actor.ID, issue.ID)
		if err != nil {
			return err
		}
		if result.Upvoted {
			return s.notifyUpvote(ctx, issue, actor.ID)
		}
		return nil
	})
	if err != nil {
		return UpvoteResult{}, err
	}
	s.metrics.IncToggle("upvote", result.Upvoted)
	return result, nil
}

func (s *Service) ToggleBookmark(ctx context.Context, actor rbac.Actor, issueID string) (BookmarkResult, error) {
	var result BookmarkResult
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		issue, err := s.engageableIssue(ctx, actor, issueID)
		if err != nil {
			return err
		}
		result.Bookmarked, err = s.store.ToggleBookmark(ctx, actor.ID, issue.ID)
		return err
	})
	if err != nil {
		return BookmarkResult{}, err
	}
	s.metrics.IncToggle("bookmark", result.Bookmarked)
	return result, nil
}

// Share counts a share. It is a plain accumulator and needs no account.
func (s *Service) Share(ctx context.Context, issueID string) (ShareResult, error) {
	shares, err := s.store.IncrementShareCount(ctx, issueID)
	if errors.Is(err, store.ErrNotFound) {
		return ShareResult{}, notFoundError("Issue")
	}
	if err != nil {
		return ShareResult{}, err
	}
	return ShareResult{Shares: shares}, nil
}

type CommentInput struct {
	Content  string  `json:"content" validate:"notblank,max=2000"`
	ParentID *string `json:"parent_id" validate:"omitempty,uuid"`
}

// CreateComment adds a comment. A reply to a reply is attached to the
// top-level comment so threads stay one level deep.
func (s *Service) CreateComment(ctx context.Context, actor rbac.Actor, issueID string, in CommentInput) (store.Comment, error) {
	if fields := validation.Struct(in); fields != nil {
		return store.Comment{}, validationError(fields)
	}
	var comment store.Comment
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		issue, err := s.engageableIssue(ctx, actor, issueID)
		if err != nil {
			return err
		}

		var parentID *string
		if in.ParentID != nil {
			parent, err := s.store.GetComment(ctx, *in.ParentID)
			if errors.Is(err, store.ErrNotFound) {
				return fieldError("parent_id", "parent comment does not exist")
			}
			if err != nil {
				return err
			}
			if parent.IssueID != issue.ID {
				return fieldError("parent_id", "parent comment belongs to another issue")
			}
			parentID = stringPtr(parent.ID)
			if parent.ParentID != nil {
				parentID = stringPtr(*parent.ParentID)
			}
		}

		author, err := s.store.GetUserByID(ctx, actor.ID)
		if err != nil {
			return err
		}
		comment, err = s.store.CreateComment(ctx, store.Comment{
			IssueID:  issue.ID,
			AuthorID: actor.ID,
			ParentID: parentID,
			Content:  strings.TrimSpace(in.Content),
		})
		if err != nil {
			return err
		}
		comment.AuthorName = author.FullName
		if _, err := s.store.RecountComments(ctx, issue.ID); err != nil {
			return err
		}
		return s.notifyComment(ctx, issue, actor.ID, author.FullName)
	})
	return comment, err
}

// DeleteComment removes a comment and its replies. Author or admin only.
func (s *Service) DeleteComment(ctx context.Context, actor rbac.Actor, commentID string) error {
	if !actor.Authenticated() {
		return unauthorizedError()
	}
	return s.store.RunInTx(ctx, func(ctx context.Context) error {
		comment, err := s.store.GetComment(ctx, commentID)
		if errors.Is(err, store.ErrNotFound) {
			return notFoundError("Comment")
		}
		if err != nil {
			return err
		}
		if !rbac.Capabilities(actor, comment).Has(rbac.CapDelete) {
			return permissionError("Only the author or an admin can delete this comment")
		}
		if err := s.store.DeleteComment(ctx, comment.ID); err != nil {
			return err
		}
		_, err = s.store.RecountComments(ctx, comment.IssueID)
		return err
	})
}

type CommentThread struct {
	store.Comment
	Replies []store.Comment
}

// ListComments returns top-level comments oldest first with their replies nested.
func (s *Service) ListComments(ctx context.Context, viewerID, issueID string) ([]CommentThread, error) {
	if _, err := s.loadIssue(ctx, issueID, "", false); err != nil {
		return nil, err
	}
	comments, err := s.store.ListComments(ctx, issueID, viewerID)
	if err != nil {
		return nil, err
	}
	return nestComments(comments), nil
}

func nestComments(comments []store.Comment) []CommentThread {
	threads := make([]CommentThread, 0)
	index := make(map[string]int)
	for _, c := range comments {
		if c.ParentID == nil {
			index[c.ID] = len(threads)
			threads = append(threads, CommentThread{Comment: c, Replies: []store.Comment{}})
		}
	}
	for _, c := range comments {
		if c.ParentID == nil {
			continue
		}
		if i, ok := index[*c.ParentID]; ok {
			threads[i].Replies = append(threads[i].Replies, c)
		}
	}
	return threads
}

func (s *Service) ToggleCommentLike(ctx context.Context, actor rbac.Actor, commentID string) (LikeResult, error) {
	if !actor.Authenticated() {
		return LikeResult{}, unauthorizedError()
	}
	var result LikeResult
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		comment, err := s.store.GetComment(ctx, commentID)
		if errors.Is(err, store.ErrNotFound) {
			return notFoundError("Comment")
		}
		if err != nil {
			return err
		}
		if !rbac.Capabilities(actor, comment).Has(rbac.CapEngage) {
			return permissionError("")
		}
		result.Liked, result.Likes, err = s.store.ToggleCommentLike(ctx, actor.ID, comment.ID)
		return err
	})
	if err != nil {
		return LikeResult{}, err
	}
	s.metrics.IncToggle("comment_like", result.Liked)
	return result, nil
}
