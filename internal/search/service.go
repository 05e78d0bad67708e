package search

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Index is the write side of the primary search engine.
type Index interface {
	Searcher
	IndexIssues(records []IssueRecord) error
	DeleteIssue(id string) error
}

// Service is the facade that tries the index first and falls back to Postgres FTS.
type Service struct {
	index    Index
	fallback Searcher
	loader   func(ctx context.Context) ([]IssueRecord, error)
	log      zerolog.Logger
	pending  sync.WaitGroup
}

// NewService creates a search service. index may be nil when Meilisearch is not configured.
func NewService(index Index, pgfts *PgFTS, logger zerolog.Logger) *Service {
	s := &Service{index: index, log: logger.With().Str("component", "search").Logger()}
	if pgfts != nil {
		s.fallback = pgfts
		s.loader = pgfts.LoadAllRecords
	}
	return s
}

func (s *Service) Search(q Query) Response {
	if s.index != nil && s.index.Healthy() {
		results, total, err := s.index.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "meilisearch"}
		}
		s.log.Warn().Err(err).Msg("index search failed, falling back to postgres")
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text, Engine: "none"}
	}
	results, total, err := s.fallback.Search(q)
	if err != nil {
		s.log.Error().Err(err).Msg("postgres search failed")
		return Response{Results: []Result{}, Query: q.Text, Engine: "postgres"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "postgres"}
}

// IndexIssue pushes an issue to the index without blocking the caller.
func (s *Service) IndexIssue(rec IssueRecord) {
	if s.index == nil || !s.index.Healthy() {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.index.IndexIssues([]IssueRecord{rec}); err != nil {
			s.log.Warn().Err(err).Str("issue_id", rec.ID).Msg("index issue")
		}
	}()
}

// DeleteIssue removes an issue from the index without blocking the caller.
func (s *Service) DeleteIssue(id string) {
	if s.index == nil || !s.index.Healthy() {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.index.DeleteIssue(id); err != nil {
			s.log.Warn().Err(err).Str("issue_id", id).Msg("delete issue from index")
		}
	}()
}

// Wait blocks until in-flight index writes finish. Used on shutdown and in tests.
func (s *Service) Wait() {
	s.pending.Wait()
}

// ReindexAllFromPG pushes every stored issue into the index.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.index == nil || !s.index.Healthy() || s.loader == nil {
		return
	}
	records, err := s.loader(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("reindex load failed")
		return
	}
	if err := s.index.IndexIssues(records); err != nil {
		s.log.Error().Err(err).Int("count", len(records)).Msg("reindex issues")
		return
	}
	s.log.Info().Int("count", len(records)).Msg("reindexed issues")
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
