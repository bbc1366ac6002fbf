package reportsync

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"civic-reporting/pkg/gateway"
	"civic-reporting/pkg/models"
)

var testNow = time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

func rep(id, reporter string, status models.Status, age time.Duration) models.Report {
	return models.Report{
		ID:          id,
		Category:    "Pothole",
		Description: "Deep pothole",
		Priority:    models.PriorityHigh,
		Status:      status,
		SubmittedAt: testNow.Add(-age),
		Reporter:    models.Reporter{Name: reporter},
		Media:       []string{},
		Timeline:    []models.TimelineItem{},
	}
}

type fakeLocal struct {
	mu      sync.Mutex
	reports []models.Report
}

func (l *fakeLocal) LoadReports(context.Context) []models.Report {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.reports)
}

func (l *fakeLocal) set(list ...models.Report) {
	l.mu.Lock()
	l.reports = list
	l.mu.Unlock()
}

type fakeRemote struct {
	mu        sync.Mutex
	enabled   bool
	reports   []models.Report
	listErr   error
	getErr    error
	counts    models.Counts
	countsErr error
	media     map[string][]string
	timelines map[string][]models.TimelineItem
	gate      func(gateway.Page)
	// malformed ids are counted as rows but left out of results, as the
	// gateway does with rows that fail validation.
	malformed []string

	listCalls int
	getCalls  int
	subs      map[int]func(models.ChangeEvent)
	nextSub   int
}

func newFakeRemote(list ...models.Report) *fakeRemote {
	return &fakeRemote{
		enabled:   true,
		reports:   list,
		media:     map[string][]string{},
		timelines: map[string][]models.TimelineItem{},
		subs:      map[int]func(models.ChangeEvent){},
	}
}

func (f *fakeRemote) Enabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

func (f *fakeRemote) ListReports(_ context.Context, page gateway.Page) ([]models.Report, int, error) {
	f.mu.Lock()
	f.listCalls++
	if f.listErr != nil {
		err := f.listErr
		f.mu.Unlock()
		return nil, 0, err
	}
	list := f.reports
	if page.Limit > 0 {
		lo := min(page.Offset, len(list))
		hi := min(page.Offset+page.Limit, len(list))
		list = list[lo:hi]
	}
	rows := len(list)
	out := slices.DeleteFunc(slices.Clone(list), func(r models.Report) bool {
		return slices.Contains(f.malformed, r.ID)
	})
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		gate(page)
	}
	return out, rows, nil
}

func (f *fakeRemote) GetReportByID(_ context.Context, id string) (models.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return models.Report{}, f.getErr
	}
	for _, r := range f.reports {
		if r.ID == id {
			return r, nil
		}
	}
	return models.Report{}, models.ErrNotFound
}

func (f *fakeRemote) ListTimelines(_ context.Context, ids []string) map[string][]models.TimelineItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string][]models.TimelineItem{}
	for _, id := range ids {
		if items, ok := f.timelines[id]; ok {
			out[id] = items
		}
	}
	return out
}

func (f *fakeRemote) ListReportMedia(_ context.Context, ids []string) map[string][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string][]string{}
	for _, id := range ids {
		if urls, ok := f.media[id]; ok {
			out[id] = urls
		}
	}
	return out
}

func (f *fakeRemote) ReportCounts(context.Context) (models.Counts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts, f.countsErr
}

func (f *fakeRemote) Subscribe(onEvent func(models.ChangeEvent)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = onEvent
	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

func (f *fakeRemote) emit(e models.ChangeEvent) {
	f.mu.Lock()
	handlers := make([]func(models.ChangeEvent), 0, len(f.subs))
	for _, h := range f.subs {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(e)
	}
}

func (f *fakeRemote) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeRemote) update(fn func(f *fakeRemote)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

type recorder[T any] struct {
	mu  sync.Mutex
	got []T
}

func (r *recorder[T]) add(v T) {
	r.mu.Lock()
	r.got = append(r.got, v)
	r.mu.Unlock()
}

func (r *recorder[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func (r *recorder[T]) last() T {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	if len(r.got) == 0 {
		return zero
	}
	return r.got[len(r.got)-1]
}

func newTestSync(local Local, remote Remote, opts ...Option) *Synchronizer {
	opts = append([]Option{
		WithClock(func() time.Time { return testNow }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	return New(local, remote, opts...)
}
