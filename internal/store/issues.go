package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const issueColumns = `i.id, i.title, i.description, i.category_id, c.name, i.status, i.urgency,
	i.address, i.area, i.latitude, i.longitude, i.is_anonymous,
	i.reporter_id, r.full_name, i.assigned_resolver_id, COALESCE(a.full_name, ''), i.department_id,
	i.upvote_count, i.comment_count, i.share_count, i.resolved_at, i.resolved_by,
	i.created_at, i.updated_at`

func issueSelect(viewerID string) sq.SelectBuilder {
	b := psql.Select(issueColumns)
	if viewerID == "" {
		b = b.Column("FALSE").Column("FALSE")
	} else {
		b = b.
			Column(sq.Expr("EXISTS (SELECT 1 FROM upvotes uv WHERE uv.issue_id = i.id AND uv.user_id = ?)", viewerID)).
			Column(sq.Expr("EXISTS (SELECT 1 FROM bookmarks bm WHERE bm.issue_id = i.id AND bm.user_id = ?)", viewerID))
	}
	return b.From("issues i").
		Join("categories c ON c.slug = i.category_id").
		Join("users r ON r.id = i.reporter_id").
		LeftJoin("users a ON a.id = i.assigned_resolver_id")
}

func scanIssue(row rowScanner) (Issue, error) {
	var issue Issue
	err := row.Scan(
		&issue.ID, &issue.Title, &issue.Description, &issue.CategoryID, &issue.CategoryName, &issue.Status, &issue.Urgency,
		&issue.Address, &issue.Area, &issue.Latitude, &issue.Longitude, &issue.IsAnonymous,
		&issue.ReporterID, &issue.ReporterName, &issue.AssignedResolverID, &issue.AssignedName, &issue.DepartmentID,
		&issue.UpvoteCount, &issue.CommentCount, &issue.ShareCount, &issue.ResolvedAt, &issue.ResolvedBy,
		&issue.CreatedAt, &issue.UpdatedAt,
		&issue.IsUpvoted, &issue.IsBookmarked,
	)
	return issue, err
}

// CreateIssue inserts a new issue in the reported state and returns it with
// its generated TS- identifier.
func (s *PostgresStore) CreateIssue(ctx context.Context, issue Issue) (Issue, error) {
	var id string
	err := s.q(ctx).QueryRowContext(ctx, `
		INSERT INTO issues (title, description, category_id, status, urgency, address, area,
			latitude, longitude, is_anonymous, reporter_id)
		VALUES ($1, $2, $3, 'reported', $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, issue.Title, issue.Description, issue.CategoryID, issue.Urgency, issue.Address, issue.Area,
		issue.Latitude, issue.Longitude, issue.IsAnonymous, issue.ReporterID).Scan(&id)
	if err != nil {
		return Issue{}, fmt.Errorf("insert issue: %w", mapError(err))
	}
	return s.GetIssue(ctx, id, issue.ReporterID)
}

func (s *PostgresStore) GetIssue(ctx context.Context, id, viewerID string) (Issue, error) {
	return s.getIssue(ctx, id, viewerID, false)
}

// GetIssueForUpdate locks the issue row for the rest of the transaction.
func (s *PostgresStore) GetIssueForUpdate(ctx context.Context, id string) (Issue, error) {
	return s.getIssue(ctx, id, "", true)
}

func (s *PostgresStore) getIssue(ctx context.Context, id, viewerID string, lock bool) (Issue, error) {
	b := issueSelect(viewerID).Where(sq.Eq{"i.id": id})
	if lock {
		b = b.Suffix("FOR UPDATE OF i")
	}
	query, args, err := b.ToSql()
	if err != nil {
		return Issue{}, fmt.Errorf("build issue query: %w", err)
	}
	issue, err := scanIssue(s.q(ctx).QueryRowContext(ctx, query, args...))
	if err != nil {
		return Issue{}, fmt.Errorf("get issue %s: %w", id, mapError(err))
	}
	return issue, nil
}

func applyIssueFilter(b sq.SelectBuilder, f IssueFilter) sq.SelectBuilder {
	if len(f.Statuses) > 0 {
		b = b.Where(sq.Eq{"i.status": f.Statuses})
	}
	if len(f.Categories) > 0 {
		b = b.Where(sq.Eq{"i.category_id": f.Categories})
	}
	if len(f.Urgencies) > 0 {
		b = b.Where(sq.Eq{"i.urgency": f.Urgencies})
	}
	if area := strings.TrimSpace(f.Area); area != "" {
		b = b.Where(sq.ILike{"i.area": "%" + escapeLike(area) + "%"})
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		pattern := "%" + escapeLike(search) + "%"
		b = b.Where(sq.Or{sq.ILike{"i.title": pattern}, sq.ILike{"i.description": pattern}})
	}
	if f.CreatedAfter != nil {
		b = b.Where(sq.GtOrEq{"i.created_at": *f.CreatedAfter})
	}
	if f.CreatedBefore != nil {
		b = b.Where(sq.Lt{"i.created_at": *f.CreatedBefore})
	}
	if f.ReporterID != "" {
		b = b.Where(sq.Eq{"i.reporter_id": f.ReporterID})
	}
	if f.AssigneeID != "" {
		b = b.Where(sq.Eq{"i.assigned_resolver_id": f.AssigneeID})
	}
	if f.BookmarkedBy != "" {
		b = b.Where(sq.Expr("EXISTS (SELECT 1 FROM bookmarks fb WHERE fb.issue_id = i.id AND fb.user_id = ?)", f.BookmarkedBy))
	}
	return b
}

func issueOrder(sort string) string {
	switch sort {
	case SortOldest:
		return "i.created_at ASC, i.id ASC"
	case SortMostUpvotes:
		return "i.upvote_count DESC, i.created_at DESC"
	case SortMostComments:
		return "i.comment_count DESC, i.created_at DESC"
	default:
		return "i.created_at DESC, i.id DESC"
	}
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}

// ListIssues returns one page of issues matching f and the total match count.
func (s *PostgresStore) ListIssues(ctx context.Context, f IssueFilter, viewerID string) ([]Issue, int, error) {
	countQuery, countArgs, err := applyIssueFilter(psql.Select("COUNT(*)").From("issues i"), f).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build issue count: %w", err)
	}
	var total int
	if err := s.q(ctx).QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count issues: %w", err)
	}

	b := applyIssueFilter(issueSelect(viewerID), f).OrderBy(issueOrder(f.Sort))
	if f.Limit > 0 {
		b = b.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		b = b.Offset(uint64(f.Offset))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build issue list: %w", err)
	}
	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()

	issues := make([]Issue, 0)
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate issues: %w", err)
	}
	return issues, total, nil
}

// ListIssuesByID returns the issues in ids order, skipping ids that no longer exist.
func (s *PostgresStore) ListIssuesByID(ctx context.Context, ids []string, viewerID string) ([]Issue, error) {
	if len(ids) == 0 {
		return []Issue{}, nil
	}
	query, args, err := issueSelect(viewerID).Where(sq.Eq{"i.id": ids}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build issue lookup: %w", err)
	}
	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lookup issues: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]Issue, len(ids))
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		byID[issue.ID] = issue
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issues: %w", err)
	}
	ordered := make([]Issue, 0, len(byID))
	for _, id := range ids {
		if issue, ok := byID[id]; ok {
			ordered = append(ordered, issue)
		}
	}
	return ordered, nil
}

func (s *PostgresStore) UpdateIssueContent(ctx context.Context, issue Issue) error {
	result, err := s.q(ctx).ExecContext(ctx, `
		UPDATE issues
		SET title=$2, description=$3, category_id=$4, urgency=$5, address=$6, area=$7,
			latitude=$8, longitude=$9, updated_at=NOW()
		WHERE id=$1
	`, issue.ID, issue.Title, issue.Description, issue.CategoryID, issue.Urgency, issue.Address, issue.Area,
		issue.Latitude, issue.Longitude)
	return expectOne(result, err, "update issue")
}

func (s *PostgresStore) DeleteIssue(ctx context.Context, id string) error {
	result, err := s.q(ctx).ExecContext(ctx, `DELETE FROM issues WHERE id=$1`, id)
	return expectOne(result, err, "delete issue")
}

// SetIssueStatus writes the new status and keeps resolved_at/resolved_by in
// step with it. A repeat resolve keeps the first stamp.
func (s *PostgresStore) SetIssueStatus(ctx context.Context, id, status, actorID string) error {
	result, err := s.q(ctx).ExecContext(ctx, `
		UPDATE issues
		SET status = $2::text,
			resolved_at = CASE WHEN $2::text = 'resolved' THEN COALESCE(resolved_at, NOW()) ELSE NULL END,
			resolved_by = CASE WHEN $2::text = 'resolved' THEN COALESCE(resolved_by, $3::uuid) ELSE NULL END,
			updated_at = NOW()
		WHERE id = $1
	`, id, status, actorID)
	return expectOne(result, err, "set issue status")
}

func (s *PostgresStore) AssignIssue(ctx context.Context, id, resolverID string, departmentID *string) error {
	result, err := s.q(ctx).ExecContext(ctx, `
		UPDATE issues
		SET assigned_resolver_id=$2, department_id=COALESCE($3, department_id), updated_at=NOW()
		WHERE id=$1
	`, id, resolverID, departmentID)
	return expectOne(result, err, "assign issue")
}

// ClaimIssue assigns the issue to resolverID only if nobody holds it yet.
// It reports false when the issue is missing or already assigned.
func (s *PostgresStore) ClaimIssue(ctx context.Context, id, resolverID string, departmentID *string) (bool, error) {
	result, err := s.q(ctx).ExecContext(ctx, `
		UPDATE issues
		SET assigned_resolver_id=$2, department_id=COALESCE($3, department_id), updated_at=NOW()
		WHERE id=$1 AND assigned_resolver_id IS NULL
	`, id, resolverID, departmentID)
	if err != nil {
		return false, fmt.Errorf("claim issue: %w", mapError(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim issue rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) IssueExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := s.q(ctx).QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM issues WHERE id=$1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("issue exists: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) IncrementShareCount(ctx context.Context, id string) (int, error) {
	var shares int
	err := s.q(ctx).QueryRowContext(ctx, `
		UPDATE issues SET share_count = share_count + 1 WHERE id=$1 RETURNING share_count
	`, id).Scan(&shares)
	if err != nil {
		return 0, fmt.Errorf("increment share count: %w", mapError(err))
	}
	return shares, nil
}

func (s *PostgresStore) AppendTimeline(ctx context.Context, entry TimelineEntry) (TimelineEntry, error) {
	err := s.q(ctx).QueryRowContext(ctx, `
		INSERT INTO issue_timeline (issue_id, status, note, actor_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, entry.IssueID, entry.Status, entry.Note, entry.ActorID).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return TimelineEntry{}, fmt.Errorf("append timeline: %w", mapError(err))
	}
	return entry, nil
}

func (s *PostgresStore) ListTimeline(ctx context.Context, issueID string) ([]TimelineEntry, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT t.id, t.issue_id, t.status, t.note, t.actor_id, COALESCE(u.full_name, ''), t.created_at
		FROM issue_timeline t
		LEFT JOIN users u ON u.id = t.actor_id
		WHERE t.issue_id = $1
		ORDER BY t.id ASC
	`, issueID)
	if err != nil {
		return nil, fmt.Errorf("list timeline: %w", err)
	}
	defer rows.Close()

	entries := make([]TimelineEntry, 0)
	for rows.Next() {
		var e TimelineEntry
		if err := rows.Scan(&e.ID, &e.IssueID, &e.Status, &e.Note, &e.ActorID, &e.ActorName, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan timeline: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) AddIssueImage(ctx context.Context, image IssueImage) (IssueImage, error) {
	if image.ID == "" {
		image.ID = newID()
	}
	err := s.q(ctx).QueryRowContext(ctx, `
		INSERT INTO issue_images (id, issue_id, object_key, is_after_image, uploaded_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, image.ID, image.IssueID, image.ObjectKey, image.IsAfterImage, image.UploadedBy).Scan(&image.CreatedAt)
	if err != nil {
		return IssueImage{}, fmt.Errorf("insert issue image: %w", mapError(err))
	}
	return image, nil
}

func (s *PostgresStore) ListIssueImages(ctx context.Context, issueID string) ([]IssueImage, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, issue_id, object_key, is_after_image, COALESCE(uploaded_by::text, ''), created_at
		FROM issue_images
		WHERE issue_id = $1
		ORDER BY created_at ASC
	`, issueID)
	if err != nil {
		return nil, fmt.Errorf("list issue images: %w", err)
	}
	defer rows.Close()

	images := make([]IssueImage, 0)
	for rows.Next() {
		var img IssueImage
		if err := rows.Scan(&img.ID, &img.IssueID, &img.ObjectKey, &img.IsAfterImage, &img.UploadedBy, &img.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan issue image: %w", err)
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

func (s *PostgresStore) CountIssueImages(ctx context.Context, issueID string, after bool) (int, error) {
	var count int
	if err := s.q(ctx).QueryRowContext(ctx, `
		SELECT COUNT(*) FROM issue_images WHERE issue_id=$1 AND is_after_image=$2
	`, issueID, after).Scan(&count); err != nil {
		return 0, fmt.Errorf("count issue images: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) CreateOfficialResponse(ctx context.Context, response OfficialResponse) (OfficialResponse, error) {
	if response.ID == "" {
		response.ID = newID()
	}
	err := s.q(ctx).QueryRowContext(ctx, `
		INSERT INTO official_responses (id, issue_id, responder_id, content)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, response.ID, response.IssueID, response.ResponderID, response.Content).Scan(&response.CreatedAt)
	if err != nil {
		return OfficialResponse{}, fmt.Errorf("insert official response: %w", mapError(err))
	}
	return response, nil
}

// GetOfficialResponse returns nil when the issue has no response yet.
func (s *PostgresStore) GetOfficialResponse(ctx context.Context, issueID string) (*OfficialResponse, error) {
	var r OfficialResponse
	err := s.q(ctx).QueryRowContext(ctx, `
		SELECT o.id, o.issue_id, COALESCE(o.responder_id::text, ''), COALESCE(u.full_name, ''), o.content, o.created_at
		FROM official_responses o
		LEFT JOIN users u ON u.id = o.responder_id
		WHERE o.issue_id = $1
	`, issueID).Scan(&r.ID, &r.IssueID, &r.ResponderID, &r.ResponderName, &r.Content, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get official response: %w", err)
	}
	return &r, nil
}
