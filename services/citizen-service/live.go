package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"civic-reporting/pkg/models"
	"civic-reporting/pkg/reportsync"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxClientMessage = 512

	actionLoadMore = "load_more"
)

type liveMessage struct {
	View string `json:"view"`
	Data any    `json:"data"`
}

type clientMessage struct {
	Action string `json:"action"`
}

// socket is one live view connection. Pending snapshots are coalesced so a
// slow client only ever receives the newest one.
type socket struct {
	conn *websocket.Conn
	view string
	log  *slog.Logger
	send chan []byte
}

// push queues a snapshot, replacing one that has not been written yet.
// Views deliver snapshots one at a time, so there is a single producer.
func (c *socket) push(data any) {
	b, err := json.Marshal(liveMessage{View: c.view, Data: data})
	if err != nil {
		c.log.Error("encode live snapshot", "view", c.view, "error", err)
		return
	}
	for {
		select {
		case c.send <- b:
			return
		default:
		}
		select {
		case <-c.send:
		default:
		}
	}
}

func (c *socket) writePump(done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readPump blocks until the client goes away, passing recognised messages
// to onMessage.
func (c *socket) readPump(onMessage func(clientMessage)) {
	c.conn.SetReadLimit(maxClientMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("live view connection lost", "view", c.view, "error", err)
			}
			return
		}
		var m clientMessage
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		if onMessage != nil {
			onMessage(m)
		}
	}
}

// opener starts a view that publishes through push. It returns the view's
// closer and an optional client message handler.
type opener func(ctx context.Context, push func(any)) (closer func(), onMessage func(clientMessage))

// serveLive upgrades the request and keeps one view open for the lifetime
// of the connection.
func (s *server) serveLive(w http.ResponseWriter, r *http.Request, view string, open opener) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WarnContext(r.Context(), "websocket upgrade failed", "view", view, "error", err)
		return
	}
	s.track(conn)
	defer s.untrack(conn)

	c := &socket{conn: conn, view: view, log: s.log, send: make(chan []byte, 1)}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	closeView, onMessage := open(ctx, c.push)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writePump(done)
	}()

	c.readPump(onMessage)

	cancel()
	closeView()
	close(done)
	wg.Wait()
}

func (s *server) liveFeed(w http.ResponseWriter, r *http.Request) {
	userID := sessionUserID(r)
	s.serveLive(w, r, "feed", func(ctx context.Context, push func(any)) (func(), func(clientMessage)) {
		feed := s.syncer.OpenFeed(ctx, s.pageSize, func(snap reportsync.FeedSnapshot) {
			push(feedPayload{
				Reports: feedItems(ctx, s.votes, snap.Reports, userID),
				HasMore: snap.HasMore,
				Source:  snap.Source,
			})
		})
		onMessage := func(m clientMessage) {
			if m.Action != actionLoadMore {
				return
			}
			if err := feed.LoadMore(ctx); err != nil && !errors.Is(err, reportsync.ErrClosed) && ctx.Err() == nil {
				s.log.WarnContext(ctx, "load more failed", "error", err)
			}
		}
		return feed.Close, onMessage
	})
}

type detailPayload struct {
	Report *feedItem         `json:"report"`
	Found  bool              `json:"found"`
	Source reportsync.Source `json:"source"`
}

func (s *server) liveDetail(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	userID := sessionUserID(r)
	s.serveLive(w, r, "detail", func(ctx context.Context, push func(any)) (func(), func(clientMessage)) {
		d := s.syncer.OpenDetail(ctx, id, func(snap reportsync.DetailSnapshot) {
			p := detailPayload{Found: snap.Found, Source: snap.Source}
			if snap.Found {
				item := feedItems(ctx, s.votes, []models.Report{snap.Report}, userID)[0]
				p.Report = &item
			}
			push(p)
		})
		return d.Close, nil
	})
}

func (s *server) liveLeaders(w http.ResponseWriter, r *http.Request) {
	s.serveLive(w, r, "leaders", func(ctx context.Context, push func(any)) (func(), func(clientMessage)) {
		v := s.syncer.OpenList(ctx, reportsync.ListOptions{View: "leaders", Hydrate: reportsync.HydrateNone}, func(snap reportsync.ListSnapshot) {
			push(leadersFrom(snap))
		})
		return v.Close, nil
	})
}

func (s *server) liveStats(w http.ResponseWriter, r *http.Request) {
	s.serveLive(w, r, "stats", func(ctx context.Context, push func(any)) (func(), func(clientMessage)) {
		v := s.syncer.OpenCounts(ctx, func(snap reportsync.CountsSnapshot) { push(snap) })
		return v.Close, nil
	})
}

func (s *server) liveMe(w http.ResponseWriter, r *http.Request) {
	sess, _ := currentUser(r)
	name := sess.User.Name
	s.serveLive(w, r, "profile", func(ctx context.Context, push func(any)) (func(), func(clientMessage)) {
		opts := reportsync.ListOptions{View: "profile", Hydrate: reportsync.HydrateAll, Reporter: name}
		v := s.syncer.OpenList(ctx, opts, func(snap reportsync.ListSnapshot) {
			push(profileFrom(name, snap.Reports, snap.Source))
		})
		return v.Close, nil
	})
}

func (s *server) liveUser(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	s.serveLive(w, r, "public-profile", func(ctx context.Context, push func(any)) (func(), func(clientMessage)) {
		opts := reportsync.ListOptions{View: "public-profile", Hydrate: reportsync.HydrateMedia, Reporter: name}
		v := s.syncer.OpenList(ctx, opts, func(snap reportsync.ListSnapshot) {
			push(profileFrom(name, publicReports(snap.Reports), snap.Source))
		})
		return v.Close, nil
	})
}
