package reportsync

import (
	"context"
	"sync/atomic"

	"civic-reporting/pkg/gateway"
	"civic-reporting/pkg/models"
)

// DefaultPageSize is the feed chunk size.
const DefaultPageSize = 10

// FeedSnapshot is the community feed state. HasMore is true when the last
// remote chunk was full; local results always arrive whole.
type FeedSnapshot struct {
	Reports []models.Report `json:"reports"`
	HasMore bool           `json:"has_more"`
	Source  Source         `json:"source"`
}

type feedState struct {
	snap FeedSnapshot
	next int
}

// Feed is the paginated, newest-first community list.
type Feed struct {
	*live[feedState]
	pageSize int
	loading  atomic.Bool
}

// OpenFeed loads the first page and keeps it current. Any change event
// resets the feed to its first page.
func (s *Synchronizer) OpenFeed(ctx context.Context, pageSize int, onChange func(FeedSnapshot)) *Feed {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	f := &Feed{pageSize: pageSize}
	notify := func(st feedState) {
		if onChange != nil {
			onChange(st.snap)
		}
	}
	f.live = newLive(ctx, s, "feed", f.firstPage, notify)
	f.start(nil, 0)
	return f
}

func (f *Feed) firstPage(ctx context.Context) (feedState, Source) {
	res := f.syncer.Load(ctx, LoadOptions{Page: gateway.Page{Limit: f.pageSize}, Hydrate: HydrateMedia})
	if res.Source == SourceLocal {
		return feedState{snap: FeedSnapshot{Reports: res.Reports, Source: SourceLocal}}, SourceLocal
	}
	return feedState{
		snap: FeedSnapshot{Reports: res.Reports, HasMore: res.Fetched == f.pageSize, Source: SourceRemote},
		next: res.Fetched,
	}, SourceRemote
}

func (f *Feed) Snapshot() FeedSnapshot {
	return f.live.Snapshot().snap
}

// LoadMore fetches the next remote page and merges it by report id. It is
// a no-op when there is nothing more or another LoadMore is running. The
// chunk is dropped if the feed was reset while it was being fetched.
func (f *Feed) LoadMore(ctx context.Context) error {
	token, cur, ok := f.enter()
	if !ok {
		return ErrClosed
	}
	defer f.wg.Done()

	if !cur.snap.HasMore || !f.loading.CompareAndSwap(false, true) {
		return nil
	}
	defer f.loading.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(f.ctx, cancel)
	defer stop()

	opts := LoadOptions{Page: gateway.Page{Limit: f.pageSize, Offset: cur.next}, Hydrate: HydrateMedia}
	res, err := f.syncer.loadRemote(ctx, opts)
	if err != nil {
		return err
	}

	f.commit(token, SourceRemote, func(st feedState) feedState {
		merged := MergeByID(st.snap.Reports, res.Reports)
		SortNewestFirst(merged)
		st.snap.Reports = merged
		st.snap.HasMore = res.Fetched == f.pageSize
		st.next += res.Fetched
		return st
	})
	return nil
}
