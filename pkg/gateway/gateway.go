// Package gateway is the remote backend access layer: the reports and
// report_timeline tables, the reports media bucket and the change channel.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"civic-reporting/pkg/models"
)

const (
	// CreatedActor and CreatedAction label the first timeline entry of every report.
	CreatedActor  = "System"
	CreatedAction = "Report created"

	mediaListConcurrency = 8
)

// Page selects a window of the newest-first report list. A zero Limit
// means no pagination.
type Page struct {
	Limit  int
	Offset int
}

// CountFilter narrows CountReports. Zero fields are ignored.
type CountFilter struct {
	Status          models.Status
	SubmittedBefore time.Time
	SubmittedSince  time.Time
}

type Repository interface {
	ListReports(ctx context.Context, page Page) ([]ReportRow, error)
	GetReport(ctx context.Context, id string) (ReportRow, error)
	// InsertReport writes the report row and its first timeline row atomically.
	InsertReport(ctx context.Context, row ReportRow, created TimelineRow) error
	DeleteTimeline(ctx context.Context, reportID string) error
	DeleteReport(ctx context.Context, id string) error
	ListTimelines(ctx context.Context, reportIDs []string) ([]TimelineRow, error)
	CountReports(ctx context.Context, filter CountFilter) (int64, error)
	// AssignDepartment sets the department and appends entry, returning the
	// row before and after the change.
	AssignDepartment(ctx context.Context, id, department string, entry TimelineRow) (before, after ReportRow, err error)
}

type BlobStore interface {
	// List returns object names under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) error
	Remove(ctx context.Context, names []string) error
	PublicURL(name string) string
}

type ChangeFeed interface {
	Publish(ctx context.Context, event models.ChangeEvent) error
	// Subscribe delivers events to onEvent until the returned func is called.
	Subscribe(onEvent func(models.ChangeEvent)) (func(), error)
}

type Gateway struct {
	enabled   bool
	repo      Repository
	blobs     BlobStore
	feed      ChangeFeed
	log       *slog.Logger
	now       func() time.Time
	retention time.Duration
}

type Option func(*Gateway)

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

func WithLogger(log *slog.Logger) Option {
	return func(g *Gateway) { g.log = log }
}

// WithRetention sets the window ReportCounts uses for resolved reports.
// Non-positive values keep the default.
func WithRetention(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.retention = d
		}
	}
}

// New returns an enabled gateway. blobs and feed may be nil, in which case
// media and change notifications degrade to empty results.
func New(repo Repository, blobs BlobStore, feed ChangeFeed, opts ...Option) *Gateway {
	g := &Gateway{enabled: true, repo: repo, blobs: blobs, feed: feed, log: slog.Default(), now: time.Now, retention: models.DefaultRetention}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.With("component", "gateway")
	return g
}

// Disabled returns a gateway for deployments without remote credentials.
func Disabled() *Gateway {
	return &Gateway{log: slog.Default().With("component", "gateway"), now: time.Now, retention: models.DefaultRetention}
}

func (g *Gateway) Enabled() bool { return g != nil && g.enabled }

// ListReports returns reports newest first. Malformed rows are skipped;
// rows is the number of rows the page held before skipping, which is what
// pagination has to advance by.
func (g *Gateway) ListReports(ctx context.Context, page Page) (reports []models.Report, rows int, err error) {
	if !g.Enabled() {
		return nil, 0, models.ErrUnavailable
	}
	found, err := g.repo.ListReports(ctx, page)
	if err != nil {
		return nil, 0, fmt.Errorf("list reports: %w", errors.Join(models.ErrUnavailable, err))
	}

	reports = make([]models.Report, 0, len(found))
	for _, row := range found {
		r, err := toReport(row)
		if err != nil {
			g.log.WarnContext(ctx, "skipping malformed report row", "error", err)
			continue
		}
		reports = append(reports, r)
	}
	return reports, len(found), nil
}

func (g *Gateway) GetReportByID(ctx context.Context, id string) (models.Report, error) {
	if !g.Enabled() {
		return models.Report{}, models.ErrUnavailable
	}
	row, err := g.repo.GetReport(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return models.Report{}, err
	}
	if err != nil {
		return models.Report{}, fmt.Errorf("get report %s: %w", id, errors.Join(models.ErrUnavailable, err))
	}
	return toReport(row)
}

// InsertReport stores r with its creation timeline entry and announces it.
func (g *Gateway) InsertReport(ctx context.Context, r models.Report) error {
	if !g.Enabled() {
		return models.ErrUnavailable
	}
	created := TimelineRow{ReportID: r.ID, Actor: CreatedActor, Action: CreatedAction, At: r.SubmittedAt}
	if err := g.repo.InsertReport(ctx, fromReport(r), created); err != nil {
		return fmt.Errorf("insert report %s: %w", r.ID, err)
	}

	inserted := r
	g.publish(ctx, models.ChangeEvent{Type: models.ChangeInsert, ReportID: r.ID, New: &inserted})
	return nil
}

// DeleteReport removes the report. Timeline and media cleanup are best
// effort; only the report row delete decides the result.
func (g *Gateway) DeleteReport(ctx context.Context, id string) error {
	if !g.Enabled() {
		return models.ErrUnavailable
	}
	if err := g.repo.DeleteTimeline(ctx, id); err != nil {
		g.log.WarnContext(ctx, "delete timeline", "report_id", id, "error", err)
	}
	if g.blobs != nil {
		if names, err := g.blobs.List(ctx, id+"/"); err != nil {
			g.log.WarnContext(ctx, "list media for delete", "report_id", id, "error", err)
		} else if len(names) > 0 {
			if err := g.blobs.Remove(ctx, names); err != nil {
				g.log.WarnContext(ctx, "remove media", "report_id", id, "error", err)
			}
		}
	}
	if err := g.repo.DeleteReport(ctx, id); err != nil {
		return fmt.Errorf("delete report %s: %w", id, err)
	}

	g.publish(ctx, models.ChangeEvent{Type: models.ChangeDelete, ReportID: id, Old: &models.Report{ID: id}})
	return nil
}

// ListTimelines groups timeline entries by report id, each ascending by
// time. Errors yield an empty map.
func (g *Gateway) ListTimelines(ctx context.Context, reportIDs []string) map[string][]models.TimelineItem {
	out := make(map[string][]models.TimelineItem)
	if !g.Enabled() || len(reportIDs) == 0 {
		return out
	}
	rows, err := g.repo.ListTimelines(ctx, reportIDs)
	if err != nil {
		g.log.WarnContext(ctx, "list timelines", "error", err)
		return out
	}
	for _, row := range rows {
		out[row.ReportID] = append(out[row.ReportID], toTimelineItem(row))
	}
	return out
}

// ListReportMedia maps each report id to its cover URL. Reports without
// stored objects are absent from the result.
func (g *Gateway) ListReportMedia(ctx context.Context, reportIDs []string) map[string][]string {
	out := make(map[string][]string)
	if !g.Enabled() || g.blobs == nil || len(reportIDs) == 0 {
		return out
	}

	var mu sync.Mutex
	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(mediaListConcurrency)
	for _, id := range reportIDs {
		grp.Go(func() error {
			names, err := g.blobs.List(gctx, id+"/")
			if err != nil {
				g.log.WarnContext(gctx, "list media", "report_id", id, "error", err)
				return nil
			}
			if len(names) == 0 {
				return nil
			}
			url := g.blobs.PublicURL(names[0])
			mu.Lock()
			out[id] = []string{url}
			mu.Unlock()
			return nil
		})
	}
	_ = grp.Wait()
	return out
}

// UploadReportPhoto stores a photo under the report's prefix and returns
// its public URL.
func (g *Gateway) UploadReportPhoto(ctx context.Context, reportID, filename string, r io.Reader, size int64, contentType string) (string, error) {
	if !g.Enabled() || g.blobs == nil {
		return "", models.ErrUnavailable
	}
	name := fmt.Sprintf("%s/%d-%s", reportID, g.now().UnixMilli(), path.Base(filename))
	if err := g.blobs.Put(ctx, name, r, size, contentType); err != nil {
		return "", fmt.Errorf("upload photo for %s: %w", reportID, err)
	}
	return g.blobs.PublicURL(name), nil
}

// ReportCounts approximates the retention-filtered totals with four count
// queries. All four must succeed.
func (g *Gateway) ReportCounts(ctx context.Context) (models.Counts, error) {
	if !g.Enabled() {
		return models.Counts{}, models.ErrUnavailable
	}
	cutoff := g.now().Add(-g.retention)

	var all, resolvedOld, resolvedRecent, inProgress int64
	grp, gctx := errgroup.WithContext(ctx)
	count := func(dst *int64, f CountFilter) {
		grp.Go(func() error {
			n, err := g.repo.CountReports(gctx, f)
			if err != nil {
				return err
			}
			*dst = n
			return nil
		})
	}
	count(&all, CountFilter{})
	count(&resolvedOld, CountFilter{Status: models.StatusResolved, SubmittedBefore: cutoff})
	count(&resolvedRecent, CountFilter{Status: models.StatusResolved, SubmittedSince: cutoff})
	count(&inProgress, CountFilter{Status: models.StatusInProgress})
	if err := grp.Wait(); err != nil {
		return models.Counts{}, fmt.Errorf("count reports: %w", errors.Join(models.ErrUnavailable, err))
	}

	return models.Counts{
		Total:      max(0, all-resolvedOld),
		Resolved:   resolvedRecent,
		InProgress: inProgress,
	}, nil
}

// Subscribe forwards change events to onEvent. The returned func stops
// delivery; it is a no-op when the gateway is disabled or the channel
// could not be opened.
func (g *Gateway) Subscribe(onEvent func(models.ChangeEvent)) func() {
	if !g.Enabled() || g.feed == nil {
		return func() {}
	}
	unsubscribe, err := g.feed.Subscribe(onEvent)
	if err != nil {
		g.log.Warn("subscribe to changes", "error", err)
		return func() {}
	}
	return unsubscribe
}

// AssignDepartment records a triage decision on the backend side and
// announces both the row update and the timeline append.
func (g *Gateway) AssignDepartment(ctx context.Context, id, department, actor string) error {
	if !g.Enabled() {
		return models.ErrUnavailable
	}
	entry := TimelineRow{ReportID: id, Actor: actor, Action: "Assigned to " + department, At: g.now().UTC()}
	before, after, err := g.repo.AssignDepartment(ctx, id, department, entry)
	if err != nil {
		return fmt.Errorf("assign %s to %s: %w", id, department, err)
	}

	var oldReport, newReport *models.Report
	if r, err := toReport(before); err == nil {
		oldReport = &r
	}
	if r, err := toReport(after); err == nil {
		newReport = &r
	}
	item := toTimelineItem(entry)
	g.publish(ctx, models.ChangeEvent{Type: models.ChangeUpdate, ReportID: id, Old: oldReport, New: newReport})
	g.publish(ctx, models.ChangeEvent{Type: models.ChangeTimelineInsert, ReportID: id, Timeline: &item})
	return nil
}

func (g *Gateway) publish(ctx context.Context, event models.ChangeEvent) {
	if g.feed == nil {
		return
	}
	if event.At.IsZero() {
		event.At = g.now().UTC()
	}
	if err := g.feed.Publish(ctx, event); err != nil {
		g.log.WarnContext(ctx, "report saved but change event not published",
			"type", event.Type, "report_id", event.ReportID, "error", err)
	}
}
