// Package reportsync decides where report data comes from and keeps
// long-lived views of it current. Every read tries the remote gateway
// first and falls back to the device-local store.
package reportsync

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"civic-reporting/pkg/gateway"
	"civic-reporting/pkg/models"
)

// DefaultPollInterval is how often a detail view refreshes without events.
const DefaultPollInterval = 10 * time.Second

// Local is the device-local report list.
type Local interface {
	LoadReports(ctx context.Context) []models.Report
}

// Remote is the subset of *gateway.Gateway the synchronizer reads from.
type Remote interface {
	Enabled() bool
	ListReports(ctx context.Context, page gateway.Page) (reports []models.Report, rows int, err error)
	GetReportByID(ctx context.Context, id string) (models.Report, error)
	ListTimelines(ctx context.Context, reportIDs []string) map[string][]models.TimelineItem
	ListReportMedia(ctx context.Context, reportIDs []string) map[string][]string
	ReportCounts(ctx context.Context) (models.Counts, error)
	Subscribe(onEvent func(models.ChangeEvent)) func()
}

type Source string

const (
	SourceRemote Source = "remote"
	SourceLocal  Source = "local"
)

// Hydrate selects which batched lookups fill in remote reports.
type Hydrate uint8

const (
	HydrateMedia Hydrate = 1 << iota
	HydrateTimeline

	HydrateNone Hydrate = 0
	HydrateAll          = HydrateMedia | HydrateTimeline
)

type LoadOptions struct {
	Page    gateway.Page
	Hydrate Hydrate
}

type LoadResult struct {
	Reports []models.Report
	Source  Source
	// Fetched is the number of rows the remote page held, counting rows
	// dropped as malformed or expired. Zero for local results.
	Fetched int
}

type Synchronizer struct {
	local     Local
	remote    Remote
	log       *slog.Logger
	metrics   *Metrics
	now       func() time.Time
	poll      time.Duration
	retention time.Duration
}

type Option func(*Synchronizer)

func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) { s.now = now }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Synchronizer) { s.log = log }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Synchronizer) { s.metrics = m }
}

// WithRetention sets how long resolved remote reports stay visible.
// Non-positive values keep the default.
func WithRetention(d time.Duration) Option {
	return func(s *Synchronizer) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithPollInterval sets the detail view refresh period. Non-positive
// values keep the default.
func WithPollInterval(d time.Duration) Option {
	return func(s *Synchronizer) {
		if d > 0 {
			s.poll = d
		}
	}
}

// New builds a synchronizer. remote may be nil for local-only deployments.
func New(local Local, remote Remote, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		local:     local,
		remote:    remote,
		log:       slog.Default(),
		now:       time.Now,
		poll:      DefaultPollInterval,
		retention: models.DefaultRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "reportsync")
	return s
}

func (s *Synchronizer) RemoteEnabled() bool {
	return s.remote != nil && s.remote.Enabled()
}

// Load returns the report list from the remote gateway when it is enabled
// and answers, otherwise from the local store.
func (s *Synchronizer) Load(ctx context.Context, opts LoadOptions) LoadResult {
	res, err := s.loadRemote(ctx, opts)
	if err == nil {
		return res
	}
	if s.RemoteEnabled() {
		s.log.DebugContext(ctx, "remote load failed, using local reports", "error", err)
	}
	return s.loadLocal(ctx)
}

func (s *Synchronizer) loadRemote(ctx context.Context, opts LoadOptions) (LoadResult, error) {
	if !s.RemoteEnabled() {
		return LoadResult{}, models.ErrUnavailable
	}
	list, fetched, err := s.remote.ListReports(ctx, opts.Page)
	if err != nil {
		return LoadResult{}, err
	}
	list = models.ApplyRetention(list, s.now(), s.retention)
	s.hydrate(ctx, list, opts.Hydrate)
	return LoadResult{Reports: list, Source: SourceRemote, Fetched: fetched}, nil
}

func (s *Synchronizer) loadLocal(ctx context.Context) LoadResult {
	list := s.local.LoadReports(ctx)
	SortNewestFirst(list)
	return LoadResult{Reports: list, Source: SourceLocal}
}

// hydrate fills media and timeline of list in place. Lookups that fail
// leave the fields empty.
func (s *Synchronizer) hydrate(ctx context.Context, list []models.Report, h Hydrate) {
	if h == HydrateNone || len(list) == 0 {
		return
	}
	ids := models.IDs(list)

	var (
		media     map[string][]string
		timelines map[string][]models.TimelineItem
	)
	var grp errgroup.Group
	if h&HydrateMedia != 0 {
		grp.Go(func() error {
			media = s.remote.ListReportMedia(ctx, ids)
			return nil
		})
	}
	if h&HydrateTimeline != 0 {
		grp.Go(func() error {
			timelines = s.remote.ListTimelines(ctx, ids)
			return nil
		})
	}
	_ = grp.Wait()

	for i := range list {
		id := list[i].ID
		if h&HydrateMedia != 0 {
			if urls, ok := media[id]; ok {
				list[i].Media = urls
			} else if list[i].Media == nil {
				list[i].Media = []string{}
			}
		}
		if h&HydrateTimeline != 0 {
			if items, ok := timelines[id]; ok {
				list[i].Timeline = items
			} else {
				list[i].Timeline = []models.TimelineItem{}
			}
		}
	}
}

// Report looks up a single report. A remote miss is authoritative; only an
// unavailable remote falls back to the local list. Expired reports are
// treated as missing.
func (s *Synchronizer) Report(ctx context.Context, id string) (models.Report, Source, error) {
	if s.RemoteEnabled() {
		r, err := s.remote.GetReportByID(ctx, id)
		switch {
		case err == nil:
			if r.Expired(s.now(), s.retention) {
				return models.Report{}, SourceRemote, models.ErrNotFound
			}
			list := []models.Report{r}
			s.hydrate(ctx, list, HydrateAll)
			return list[0], SourceRemote, nil
		case errors.Is(err, models.ErrNotFound):
			return models.Report{}, SourceRemote, models.ErrNotFound
		default:
			s.log.DebugContext(ctx, "remote lookup failed, using local reports", "report_id", id, "error", err)
		}
	}

	for _, r := range s.local.LoadReports(ctx) {
		if r.ID == id {
			return r, SourceLocal, nil
		}
	}
	return models.Report{}, SourceLocal, models.ErrNotFound
}

// Counts returns the home counters, remotely aggregated when possible.
func (s *Synchronizer) Counts(ctx context.Context) (models.Counts, Source) {
	if s.RemoteEnabled() {
		c, err := s.remote.ReportCounts(ctx)
		if err == nil {
			return c, SourceRemote
		}
		s.log.DebugContext(ctx, "remote counts failed, using local reports", "error", err)
	}
	return LocalCounts(s.local.LoadReports(ctx)), SourceLocal
}

// subscribe registers onEvent with the remote change channel. The returned
// disposer is never nil.
func (s *Synchronizer) subscribe(onEvent func(models.ChangeEvent)) func() {
	if !s.RemoteEnabled() {
		return func() {}
	}
	return s.remote.Subscribe(onEvent)
}
