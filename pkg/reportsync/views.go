package reportsync

import (
	"context"
	"errors"

	"civic-reporting/pkg/models"
)

type ListSnapshot struct {
	Reports []models.Report `json:"reports"`
	Source  Source          `json:"source"`
}

type ListOptions struct {
	// View labels metrics, e.g. "leaders" or "profile".
	View    string
	Hydrate Hydrate
	// Reporter restricts the list to one reporter name when set.
	Reporter string
}

// List is a whole-list view used by profile, map and leaderboard screens.
type List struct {
	*live[ListSnapshot]
}

// LoadList loads the full retained list once. Hydration runs after the
// reporter filter so only the kept reports are hydrated.
func (s *Synchronizer) LoadList(ctx context.Context, opts ListOptions) ListSnapshot {
	res := s.Load(ctx, LoadOptions{})
	list := res.Reports
	if opts.Reporter != "" {
		list = ReportsBy(list, opts.Reporter)
	}
	if res.Source == SourceRemote {
		s.hydrate(ctx, list, opts.Hydrate)
	}
	return ListSnapshot{Reports: list, Source: res.Source}
}

// OpenList loads the full retained list and reloads it on any change.
func (s *Synchronizer) OpenList(ctx context.Context, opts ListOptions, onChange func(ListSnapshot)) *List {
	if opts.View == "" {
		opts.View = "list"
	}
	load := func(ctx context.Context) (ListSnapshot, Source) {
		snap := s.LoadList(ctx, opts)
		return snap, snap.Source
	}
	v := &List{newLive(ctx, s, opts.View, load, onChange)}
	v.start(nil, 0)
	return v
}

type DetailSnapshot struct {
	Report models.Report `json:"report"`
	Found  bool          `json:"found"`
	Source Source        `json:"source"`
}

// Detail follows a single report.
type Detail struct {
	*live[DetailSnapshot]
}

// OpenDetail loads report id and reloads it on changes to that id and on a
// fixed poll.
func (s *Synchronizer) OpenDetail(ctx context.Context, id string, onChange func(DetailSnapshot)) *Detail {
	load := func(ctx context.Context) (DetailSnapshot, Source) {
		r, src, err := s.Report(ctx, id)
		if err != nil {
			if !errors.Is(err, models.ErrNotFound) {
				s.log.WarnContext(ctx, "load report detail", "report_id", id, "error", err)
			}
			return DetailSnapshot{Source: src}, src
		}
		return DetailSnapshot{Report: r, Found: true, Source: src}, src
	}
	v := &Detail{newLive(ctx, s, "detail", load, onChange)}
	v.start(func(e models.ChangeEvent) bool { return e.ReportID == id }, s.poll)
	return v
}

type CountsSnapshot struct {
	Counts models.Counts `json:"counts"`
	Source Source        `json:"source"`
}

// Counts is the home screen counter view.
type Counts struct {
	*live[CountsSnapshot]
}

func (s *Synchronizer) OpenCounts(ctx context.Context, onChange func(CountsSnapshot)) *Counts {
	load := func(ctx context.Context) (CountsSnapshot, Source) {
		c, src := s.Counts(ctx)
		return CountsSnapshot{Counts: c, Source: src}, src
	}
	v := &Counts{newLive(ctx, s, "counts", load, onChange)}
	v.start(nil, 0)
	return v
}
