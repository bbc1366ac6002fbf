// Package localstore keeps the device-local copy of the report list and
// per-report vote sets. Every operation degrades to an empty or zero
// result on failure; nothing here returns an error to the caller.
package localstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"civic-reporting/pkg/kvstore"
	"civic-reporting/pkg/models"
)

const (
	reportsKey     = "cc:reports"
	votesKeyPrefix = "cc:votes:"
)

type Store struct {
	kv        kvstore.Store
	log       *slog.Logger
	now       func() time.Time
	retention time.Duration
}

type Option func(*Store)

// WithClock overrides the time source used for retention pruning.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRetention sets how long resolved reports are kept. Non-positive
// values keep the default.
func WithRetention(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.retention = d
		}
	}
}

func New(kv kvstore.Store, log *slog.Logger, opts ...Option) *Store {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{kv: kv, log: log.With("component", "localstore"), now: time.Now, retention: models.DefaultRetention}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadReports returns the persisted list minus expired resolved reports.
// When anything was pruned the filtered list is written back.
func (s *Store) LoadReports(ctx context.Context) []models.Report {
	raw, ok, err := s.kv.Get(ctx, reportsKey)
	if err != nil {
		s.log.WarnContext(ctx, "read reports", "error", err)
		return []models.Report{}
	}
	if !ok {
		return []models.Report{}
	}

	var list []models.Report
	if err := json.Unmarshal(raw, &list); err != nil {
		s.log.WarnContext(ctx, "decode reports", "error", err)
		return []models.Report{}
	}

	filtered := models.ApplyRetention(list, s.now(), s.retention)
	if len(filtered) != len(list) {
		s.log.InfoContext(ctx, "pruned expired reports", "count", len(list)-len(filtered))
		s.SaveReports(ctx, filtered)
	}
	return filtered
}

// SaveReports overwrites the persisted list with list.
func (s *Store) SaveReports(ctx context.Context, list []models.Report) {
	if list == nil {
		list = []models.Report{}
	}
	raw, err := json.Marshal(list)
	if err != nil {
		s.log.WarnContext(ctx, "encode reports", "error", err)
		return
	}
	if err := s.kv.Set(ctx, reportsKey, raw); err != nil {
		s.log.WarnContext(ctx, "write reports", "error", err)
	}
}

// Upvote toggles userID's vote on reportID.
func (s *Store) Upvote(ctx context.Context, reportID, userID string) {
	voters, err := s.voters(ctx, reportID)
	if err != nil {
		s.log.WarnContext(ctx, "read votes", "report_id", reportID, "error", err)
		return
	}

	next := make([]string, 0, len(voters)+1)
	removed := false
	for _, v := range voters {
		if v == userID {
			removed = true
			continue
		}
		next = append(next, v)
	}
	if !removed {
		next = append(next, userID)
	}

	raw, err := json.Marshal(next)
	if err != nil {
		s.log.WarnContext(ctx, "encode votes", "report_id", reportID, "error", err)
		return
	}
	if err := s.kv.Set(ctx, votesKeyPrefix+reportID, raw); err != nil {
		s.log.WarnContext(ctx, "write votes", "report_id", reportID, "error", err)
	}
}

// Votes returns the number of distinct voters on reportID.
func (s *Store) Votes(ctx context.Context, reportID string) int {
	voters, err := s.voters(ctx, reportID)
	if err != nil {
		s.log.WarnContext(ctx, "read votes", "report_id", reportID, "error", err)
		return 0
	}
	return len(voters)
}

// HasVoted reports whether userID currently votes for reportID.
func (s *Store) HasVoted(ctx context.Context, reportID, userID string) bool {
	voters, err := s.voters(ctx, reportID)
	if err != nil {
		return false
	}
	for _, v := range voters {
		if v == userID {
			return true
		}
	}
	return false
}

// voters decodes the vote set, collapsing any duplicates left by older
// writers so the count stays a set cardinality.
func (s *Store) voters(ctx context.Context, reportID string) ([]string, error) {
	raw, ok, err := s.kv.Get(ctx, votesKeyPrefix+reportID)
	if err != nil || !ok {
		return nil, err
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(list))
	out := list[:0]
	for _, v := range list {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out, nil
}
