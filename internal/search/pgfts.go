package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// PgFTS implements Searcher over the issues.search_vector column.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down the whole API is down.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	where := []string{"i.search_vector @@ " + tsQuery}
	args := []any{q.Text}
	if q.Status != "" {
		args = append(args, q.Status)
		where = append(where, fmt.Sprintf("i.status = $%d", len(args)))
	}
	if q.Category != "" {
		args = append(args, q.Category)
		where = append(where, fmt.Sprintf("i.category_id = $%d", len(args)))
	}
	args = append(args, limit, offset)

	query := fmt.Sprintf(`
		SELECT i.id, i.title,
			ts_headline('english', i.description, %s, 'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>') AS snippet,
			i.status, i.category_id, i.area,
			COUNT(*) OVER() AS total
		FROM issues i
		WHERE %s
		ORDER BY ts_rank(i.search_vector, %s) DESC, i.created_at DESC
		LIMIT $%d OFFSET $%d`,
		tsQuery, strings.Join(where, " AND "), tsQuery, len(args)-1, len(args))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts search: %w", err)
	}
	defer rows.Close()

	var results []Result
	total := 0
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.Status, &r.Category, &r.Area, &total); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords reads every issue for a full Meilisearch reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]IssueRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, description, category_id, status, urgency, area, address, created_at
		FROM issues
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("load issues: %w", err)
	}
	defer rows.Close()

	var records []IssueRecord
	for rows.Next() {
		var (
			rec       IssueRecord
			createdAt time.Time
		)
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.Description, &rec.Category, &rec.Status, &rec.Urgency, &rec.Area, &rec.Address, &createdAt); err != nil {
			return nil, fmt.Errorf("scan issue record: %w", err)
		}
		rec.CreatedAt = createdAt.Unix()
		records = append(records, rec)
	}
	return records, rows.Err()
}
