package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civic-reporting/pkg/config"
	"civic-reporting/pkg/gateway"
	"civic-reporting/pkg/kvstore"
	"civic-reporting/pkg/models"
	"civic-reporting/pkg/submission"
)

type envelope struct {
	Status  string            `json:"status"`
	Message string            `json:"message"`
	Data    json.RawMessage   `json:"data"`
	Meta    json.RawMessage   `json:"meta"`
	Fields  map[string]string `json:"fields"`
}

type harness struct {
	t   *testing.T
	srv *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	places := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search":
			if strings.Contains(r.URL.Query().Get("q"), "Kothrud") {
				fmt.Fprint(w, `[{"lat":"18.5089","lon":"73.8079","display_name":"Kothrud, Pune"}]`)
				return
			}
			fmt.Fprint(w, `[]`)
		case "/reverse":
			fmt.Fprint(w, `{"display_name":"Shivajinagar, Pune, Maharashtra"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(places.Close)

	cfg := &config.Config{
		Server: config.ServerConfig{MaxUploadBytes: 1 << 20},
		Geo:    config.GeoConfig{BaseURL: places.URL, UserAgent: "citizen-service-test"},
		Auth:   config.AuthConfig{JWTSecret: "test-secret", TokenTTL: time.Hour},
		Sync:   config.SyncConfig{DetailPollInterval: time.Hour, FeedPageSize: 2},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := newServer(cfg, log, kvstore.NewMemory(), gateway.Disabled(), prometheus.NewRegistry())

	srv := httptest.NewServer(s.routes())
	t.Cleanup(srv.Close)
	t.Cleanup(s.closeSockets)
	return &harness{t: t, srv: srv}
}

func (h *harness) do(method, path, token string, body io.Reader, contentType string) (int, envelope) {
	h.t.Helper()
	req, err := http.NewRequest(method, h.srv.URL+path, body)
	require.NoError(h.t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()

	var env envelope
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(h.t, json.NewDecoder(resp.Body).Decode(&env))
	}
	return resp.StatusCode, env
}

func (h *harness) json(method, path, token string, payload any) (int, envelope) {
	h.t.Helper()
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(h.t, err)
		body = bytes.NewReader(b)
	}
	return h.do(method, path, token, body, "application/json")
}

func (h *harness) signUp(name, email string) string {
	h.t.Helper()
	status, env := h.json(http.MethodPost, "/api/auth/register", "", credentials{Name: name, Email: email, Password: "correct horse"})
	require.Equal(h.t, http.StatusCreated, status, env.Message)
	var sp sessionPayload
	require.NoError(h.t, json.Unmarshal(env.Data, &sp))
	require.NotEmpty(h.t, sp.Token)
	return sp.Token
}

func (h *harness) submit(token string, body submissionBody) models.Report {
	h.t.Helper()
	status, env := h.json(http.MethodPost, "/api/reports", token, body)
	require.Equal(h.t, http.StatusCreated, status, env.Message)
	var res submission.Result
	require.NoError(h.t, json.Unmarshal(env.Data, &res))
	return res.Report
}

func kothrudReport() submissionBody {
	return submissionBody{
		Category:    "Pothole",
		Priority:    "High",
		Location:    "Kothrud, Pune",
		Description: "Large pothole blocking traffic near XYZ Chowk since yesterday",
	}
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestHealth(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	status, env := h.do(http.MethodGet, "/health", "", nil, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "success", env.Status)
	assert.JSONEq(t, `{"remote":false}`, string(env.Data))
}

func TestAuthFlow(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	token := h.signUp("Asha", "asha@example.com")

	status, _ := h.json(http.MethodPost, "/api/auth/register", "", credentials{Name: "Asha", Email: "ASHA@example.com", Password: "another pass"})
	assert.Equal(t, http.StatusConflict, status)

	status, _ = h.json(http.MethodPost, "/api/auth/login", "", credentials{Email: "asha@example.com", Password: "wrong password"})
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = h.json(http.MethodPost, "/api/auth/login", "", credentials{Email: "nobody@example.com", Password: "correct horse"})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, env := h.json(http.MethodPost, "/api/auth/login", "", credentials{Email: "asha@example.com", Password: "correct horse"})
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, decode[sessionPayload](t, env.Data).Token)

	status, env = h.do(http.MethodGet, "/api/me", token, nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Asha", decode[models.User](t, env.Data).Name)

	status, _ = h.do(http.MethodGet, "/api/me", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = h.do(http.MethodGet, "/api/me", "not-a-token", nil, "")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = h.do(http.MethodDelete, "/api/auth/session", token, nil, "")
	assert.Equal(t, http.StatusOK, status)
}

func TestRegister_Validation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	status, env := h.json(http.MethodPost, "/api/auth/register", "", credentials{Name: "A", Email: "nope", Password: "short"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Contains(t, env.Fields, "name")
	assert.Contains(t, env.Fields, "email")
	assert.Contains(t, env.Fields, "password")
}

func TestCreateReport_JSON(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	status, _ := h.json(http.MethodPost, "/api/reports", "", kothrudReport())
	assert.Equal(t, http.StatusUnauthorized, status)

	token := h.signUp("Asha", "asha@example.com")
	status, env := h.json(http.MethodPost, "/api/reports", token, kothrudReport())
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, submission.MsgSyncNotEnabled, env.Message)

	res := decode[submission.Result](t, env.Data)
	assert.False(t, res.Synced)
	assert.Regexp(t, `^CR-[0-9A-F]{8}$`, res.Report.ID)
	assert.Equal(t, "Asha", res.Report.Reporter.Name)
	assert.Equal(t, models.StatusPending, res.Report.Status)
	assert.InDelta(t, 18.5089, res.Report.Lat, 1e-9)

	status, env = h.do(http.MethodGet, "/api/reports/"+res.Report.ID, "", nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, res.Report.ID, decode[feedItem](t, env.Data).ID)
	assert.JSONEq(t, `{"source":"local"}`, string(env.Meta))

	status, _ = h.do(http.MethodGet, "/api/reports/CR-MISSING0", "", nil, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCreateReport_Validation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	token := h.signUp("Asha", "asha@example.com")

	status, env := h.json(http.MethodPost, "/api/reports", token, submissionBody{})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "Please select a category.", env.Fields["category"])
	assert.Equal(t, "Location is required.", env.Fields["location"])

	outside := kothrudReport()
	lat, lng := 51.5072, -0.1276
	outside.Lat, outside.Lng = &lat, &lng
	status, env = h.json(http.MethodPost, "/api/reports", token, outside)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "Reports are accepted only within India.", env.Fields["location"])

	unnamed := kothrudReport()
	unnamed.Location = " "
	lat, lng = 18.52043, 73.85674
	unnamed.Lat, unnamed.Lng = &lat, &lng
	status, env = h.json(http.MethodPost, "/api/reports", token, unnamed)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "Location is required.", env.Fields["location"])

	status, _ = h.do(http.MethodPost, "/api/reports", token, strings.NewReader("{"), "application/json")
	assert.Equal(t, http.StatusBadRequest, status)
}

func multipartReport(t *testing.T, photo []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range map[string]string{
		"category":    "Street Light",
		"priority":    "Medium",
		"description": "Street light not working for a week",
		"location":    "Shivajinagar, Pune",
		"lat":         "18.52043",
		"lng":         "73.85674",
		"anonymous":   "true",
	} {
		require.NoError(t, mw.WriteField(k, v))
	}
	if photo != nil {
		fw, err := mw.CreateFormFile("photo", "light.bin")
		require.NoError(t, err)
		_, err = fw.Write(photo)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestCreateReport_Multipart(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	token := h.signUp("Asha", "asha@example.com")

	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)
	body, ct := multipartReport(t, png)
	status, env := h.do(http.MethodPost, "/api/reports", token, body, ct)
	require.Equal(t, http.StatusCreated, status, env.Message)

	res := decode[submission.Result](t, env.Data)
	assert.Equal(t, "Shivajinagar, Pune", res.Report.LocationText)
	assert.True(t, res.Report.Reporter.Anonymous)
	assert.Empty(t, res.Report.Media, "photos are only stored remotely")

	body, ct = multipartReport(t, []byte("plain text, not an image"))
	status, _ = h.do(http.MethodPost, "/api/reports", token, body, ct)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestListReports_PagesLocalList(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	token := h.signUp("Asha", "asha@example.com")
	for range 3 {
		h.submit(token, kothrudReport())
	}

	status, env := h.do(http.MethodGet, "/api/reports", "", nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]feedItem](t, env.Data), 2)
	meta := decode[pageMeta](t, env.Meta)
	assert.True(t, meta.HasMore)
	assert.Equal(t, 2, meta.NextOffset)
	assert.Equal(t, "local", string(meta.Source))

	status, env = h.do(http.MethodGet, "/api/reports?offset=2&limit=2", "", nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]feedItem](t, env.Data), 1)
	assert.False(t, decode[pageMeta](t, env.Meta).HasMore)

	status, _ = h.do(http.MethodGet, "/api/reports?limit=0", "", nil, "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAnonymousReporterIsHidden(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	token := h.signUp("Asha", "asha@example.com")

	anon := kothrudReport()
	anon.Anonymous = true
	anon.Phone = "9876543210"
	secret := h.submit(token, anon)
	public := h.submit(token, kothrudReport())

	_, env := h.do(http.MethodGet, "/api/reports", "", nil, "")
	byID := map[string]feedItem{}
	for _, it := range decode[[]feedItem](t, env.Data) {
		byID[it.ID] = it
	}
	assert.Equal(t, anonymousName, byID[secret.ID].Reporter.Name)
	assert.Nil(t, byID[secret.ID].Reporter.Phone)
	assert.Equal(t, "Asha", byID[public.ID].Reporter.Name)

	_, env = h.do(http.MethodGet, "/api/me/reports", token, nil, "")
	mine := decode[profilePayload](t, env.Data)
	assert.ElementsMatch(t, []string{secret.ID, public.ID}, models.IDs(mine.Reports))
	assert.Equal(t, 20, mine.Karma)

	_, env = h.do(http.MethodGet, "/api/users/"+url.PathEscape("Asha")+"/reports", "", nil, "")
	assert.Equal(t, []string{public.ID}, models.IDs(decode[profilePayload](t, env.Data).Reports))

	_, env = h.do(http.MethodGet, "/api/leaders", "", nil, "")
	leaders := decode[leadersPayload](t, env.Data).Leaders
	require.Len(t, leaders, 1)
	assert.Equal(t, "Asha", leaders[0].Name)
	assert.Equal(t, 1, leaders[0].Reports)
}

func TestUpvote_Toggles(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	token := h.signUp("Asha", "asha@example.com")
	r := h.submit(token, kothrudReport())

	status, env := h.do(http.MethodPost, "/api/reports/"+r.ID+"/upvote", token, nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, votePayload{ReportID: r.ID, Votes: 1, HasVoted: true}, decode[votePayload](t, env.Data))

	_, env = h.do(http.MethodGet, "/api/reports", token, nil, "")
	items := decode[[]feedItem](t, env.Data)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Votes)
	assert.True(t, items[0].HasVoted)

	_, env = h.do(http.MethodPost, "/api/reports/"+r.ID+"/upvote", token, nil, "")
	assert.Equal(t, votePayload{ReportID: r.ID, Votes: 0, HasVoted: false}, decode[votePayload](t, env.Data))

	status, _ = h.do(http.MethodPost, "/api/reports/CR-MISSING0/upvote", token, nil, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestDeleteReport_OwnerOnly(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	owner := h.signUp("Asha", "asha@example.com")
	other := h.signUp("Ravi", "ravi@example.com")
	r := h.submit(owner, kothrudReport())

	status, _ := h.do(http.MethodDelete, "/api/reports/"+r.ID, other, nil, "")
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = h.do(http.MethodDelete, "/api/reports/"+r.ID, owner, nil, "")
	assert.Equal(t, http.StatusOK, status)

	status, _ = h.do(http.MethodGet, "/api/reports/"+r.ID, "", nil, "")
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = h.do(http.MethodDelete, "/api/reports/"+r.ID, owner, nil, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestStats(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	token := h.signUp("Asha", "asha@example.com")
	h.submit(token, kothrudReport())
	h.submit(token, kothrudReport())

	status, env := h.do(http.MethodGet, "/api/stats", "", nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"counts":{"total":2,"resolved":0,"inProgress":0},"source":"local"}`, string(env.Data))
}

func TestReverseGeocode(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	status, env := h.do(http.MethodGet, "/api/geocode/reverse?lat=18.5308&lng=73.8475", "", nil, "")
	require.Equal(t, http.StatusOK, status)
	p := decode[placePayload](t, env.Data)
	assert.Equal(t, "Shivajinagar, Pune, Maharashtra", p.LocationText)
	assert.True(t, p.InIndia)

	status, _ = h.do(http.MethodGet, "/api/geocode/reverse?lat=north", "", nil, "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	status, env := h.do(http.MethodPut, "/api/leaders", "", nil, "")
	assert.Equal(t, http.StatusMethodNotAllowed, status)
	assert.Equal(t, "error", env.Status)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.do(http.MethodGet, "/api/leaders", "", nil, "")
	readFrame(t, h.dial("/ws/leaders"))

	resp, err := http.Get(h.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "http_requests_total")
	assert.Contains(t, string(body), `reportsync_loads_total{source="local",view="leaders"}`)
}

type liveFrame struct {
	View string          `json:"view"`
	Data json.RawMessage `json:"data"`
}

func (h *harness) dial(path string) *websocket.Conn {
	h.t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(h.srv.URL, "http")+path, nil)
	require.NoError(h.t, err)
	resp.Body.Close()
	h.t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) liveFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var f liveFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestLiveFeed(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	token := h.signUp("Asha", "asha@example.com")
	r := h.submit(token, kothrudReport())

	conn := h.dial("/ws/feed")
	f := readFrame(t, conn)
	assert.Equal(t, "feed", f.View)
	p := decode[feedPayload](t, f.Data)
	assert.Equal(t, []string{r.ID}, itemIDs(p.Reports))
	assert.False(t, p.HasMore)

	require.NoError(t, conn.WriteJSON(clientMessage{Action: actionLoadMore}))
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
}

func TestLiveDetailAndStats(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	token := h.signUp("Asha", "asha@example.com")
	r := h.submit(token, kothrudReport())

	f := readFrame(t, h.dial("/ws/reports/"+r.ID))
	assert.Equal(t, "detail", f.View)
	d := decode[detailPayload](t, f.Data)
	require.True(t, d.Found)
	assert.Equal(t, r.ID, d.Report.ID)

	f = readFrame(t, h.dial("/ws/reports/CR-MISSING0"))
	assert.False(t, decode[detailPayload](t, f.Data).Found)

	f = readFrame(t, h.dial("/ws/stats"))
	assert.Equal(t, "stats", f.View)
	assert.Contains(t, string(f.Data), `"total":1`)

	f = readFrame(t, h.dial("/ws/leaders"))
	assert.Len(t, decode[leadersPayload](t, f.Data).Leaders, 1)
}

func TestLiveMe_RequiresSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	token := h.signUp("Asha", "asha@example.com")
	r := h.submit(token, kothrudReport())

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(h.srv.URL, "http")+"/ws/me", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	f := readFrame(t, h.dial("/ws/me?token="+url.QueryEscape(token)))
	p := decode[profilePayload](t, f.Data)
	assert.Equal(t, "Asha", p.Name)
	assert.Equal(t, []string{r.ID}, models.IDs(p.Reports))

	f = readFrame(t, h.dial("/ws/users/Asha"))
	assert.Equal(t, "public-profile", f.View)
}

func itemIDs(items []feedItem) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}

func TestMaskAnonymous_DoesNotModifyInput(t *testing.T) {
	t.Parallel()

	phone := "9876543210"
	in := []models.Report{{ID: "CR-1", Reporter: models.Reporter{Name: "Asha", Phone: &phone, Anonymous: true}}}
	out := maskAnonymous(in)

	assert.Equal(t, anonymousName, out[0].Reporter.Name)
	assert.Nil(t, out[0].Reporter.Phone)
	assert.Equal(t, "Asha", in[0].Reporter.Name)
}
