package main

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"civic-reporting/pkg/geo"
	"civic-reporting/pkg/localstore"
	"civic-reporting/pkg/middleware"
	"civic-reporting/pkg/reportsync"
	"civic-reporting/pkg/response"
	"civic-reporting/pkg/session"
	"civic-reporting/pkg/submission"
)

const maxPageSize = 100

type placeNamer interface {
	Reverse(ctx context.Context, c geo.Coordinates) (string, error)
}

type server struct {
	log      *slog.Logger
	syncer   *reportsync.Synchronizer
	submit   *submission.Service
	votes    *localstore.Store
	accounts *session.Registry
	tokens   *session.Tokens
	places   placeNamer

	httpMetrics *middleware.HTTPMetrics
	gatherer    prometheus.Gatherer

	pageSize  int
	maxUpload int64
	upgrader  websocket.Upgrader

	socketsMu sync.Mutex
	sockets   map[*websocket.Conn]struct{}
}

func (s *server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.TraceMiddleware, middleware.Logger(s.log), s.httpMetrics.Middleware, middleware.Authenticate(s.tokens))

	signedIn := func(h http.HandlerFunc) http.Handler { return middleware.RequireSession(h) }

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.Handle("/metrics", middleware.Handler(s.gatherer)).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/register", s.register).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", s.login).Methods(http.MethodPost)
	api.Handle("/auth/session", signedIn(s.logout)).Methods(http.MethodDelete)
	api.Handle("/me", signedIn(s.me)).Methods(http.MethodGet)
	api.Handle("/me/reports", signedIn(s.myReports)).Methods(http.MethodGet)

	api.HandleFunc("/reports", s.listReports).Methods(http.MethodGet)
	api.Handle("/reports", signedIn(s.createReport)).Methods(http.MethodPost)
	api.HandleFunc("/reports/{id}", s.getReport).Methods(http.MethodGet)
	api.Handle("/reports/{id}", signedIn(s.deleteReport)).Methods(http.MethodDelete)
	api.Handle("/reports/{id}/upvote", signedIn(s.upvote)).Methods(http.MethodPost)
	api.HandleFunc("/users/{name}/reports", s.userReports).Methods(http.MethodGet)
	api.HandleFunc("/leaders", s.leaders).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.stats).Methods(http.MethodGet)
	api.HandleFunc("/geocode/reverse", s.reverseGeocode).Methods(http.MethodGet)

	ws := r.PathPrefix("/ws").Subrouter()
	ws.HandleFunc("/feed", s.liveFeed)
	ws.HandleFunc("/reports/{id}", s.liveDetail)
	ws.HandleFunc("/users/{name}", s.liveUser)
	ws.HandleFunc("/leaders", s.liveLeaders)
	ws.HandleFunc("/stats", s.liveStats)
	ws.Handle("/me", signedIn(s.liveMe))

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "Method not allowed", "")
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "Not found", "")
	})
	return r
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	response.Success(w, http.StatusOK, "ok", map[string]any{"remote": s.syncer.RemoteEnabled()})
}

func (s *server) track(c *websocket.Conn) {
	s.socketsMu.Lock()
	defer s.socketsMu.Unlock()
	if s.sockets == nil {
		s.sockets = make(map[*websocket.Conn]struct{})
	}
	s.sockets[c] = struct{}{}
}

func (s *server) untrack(c *websocket.Conn) {
	s.socketsMu.Lock()
	defer s.socketsMu.Unlock()
	delete(s.sockets, c)
}

// closeSockets ends every live view connection; hijacked connections are
// not closed by http.Server.Shutdown.
func (s *server) closeSockets() {
	s.socketsMu.Lock()
	defer s.socketsMu.Unlock()
	for c := range s.sockets {
		_ = c.Close()
	}
}

func currentUser(r *http.Request) (*session.Session, bool) {
	return session.FromContext(r.Context())
}
