package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"civic-reporting/pkg/gateway"
	"civic-reporting/pkg/geo"
	"civic-reporting/pkg/models"
	"civic-reporting/pkg/reportsync"
	"civic-reporting/pkg/response"
	"civic-reporting/pkg/submission"
)

type pageMeta struct {
	Limit      int               `json:"limit"`
	Offset     int               `json:"offset"`
	NextOffset int               `json:"next_offset"`
	HasMore    bool              `json:"has_more"`
	Source     reportsync.Source `json:"source"`
}

type sourceMeta struct {
	Source reportsync.Source `json:"source"`
}

type votePayload struct {
	ReportID string `json:"report_id"`
	Votes    int    `json:"votes"`
	HasVoted bool   `json:"has_voted"`
}

type placePayload struct {
	LocationText string  `json:"location_text"`
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	InIndia      bool    `json:"in_india"`
}

func sessionUserID(r *http.Request) string {
	if sess, ok := currentUser(r); ok {
		return sess.User.ID
	}
	return ""
}

func pageParams(r *http.Request, defaultLimit int) (limit, offset int, err error) {
	limit = defaultLimit
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			return 0, 0, fmt.Errorf("limit must be a positive integer")
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("offset must be a non-negative integer")
		}
	}
	return min(limit, maxPageSize), offset, nil
}

// listReports returns one feed page. Local results arrive whole and are
// paged in memory.
func (s *server) listReports(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r, s.pageSize)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid pagination", err.Error())
		return
	}

	res := s.syncer.Load(r.Context(), reportsync.LoadOptions{
		Page:    gateway.Page{Limit: limit, Offset: offset},
		Hydrate: reportsync.HydrateMedia,
	})
	list := res.Reports
	meta := pageMeta{Limit: limit, Offset: offset, Source: res.Source}
	if res.Source == reportsync.SourceLocal {
		start := min(offset, len(list))
		end := min(start+limit, len(list))
		list = list[start:end]
		meta.NextOffset = end
		meta.HasMore = end < len(res.Reports)
	} else {
		meta.NextOffset = offset + res.Fetched
		meta.HasMore = res.Fetched == limit
	}

	response.SuccessWithMeta(w, http.StatusOK, "", feedItems(r.Context(), s.votes, list, sessionUserID(r)), meta)
}

func (s *server) getReport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rep, src, err := s.syncer.Report(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "Report not found", "")
			return
		}
		response.FromError(w, err, "Failed to load report")
		return
	}
	item := feedItems(r.Context(), s.votes, []models.Report{rep}, sessionUserID(r))[0]
	response.SuccessWithMeta(w, http.StatusOK, "", item, sourceMeta{Source: src})
}

type submissionBody struct {
	Category    string   `json:"category"`
	Priority    string   `json:"priority"`
	Location    string   `json:"location"`
	Description string   `json:"description"`
	Phone       string   `json:"phone"`
	Anonymous   bool     `json:"anonymous"`
	Lat         *float64 `json:"lat"`
	Lng         *float64 `json:"lng"`
}

func (b submissionBody) input() submission.Input {
	in := submission.Input{
		Category:     b.Category,
		Priority:     b.Priority,
		LocationText: b.Location,
		Description:  b.Description,
		Phone:        b.Phone,
		Anonymous:    b.Anonymous,
	}
	if b.Lat != nil && b.Lng != nil {
		in.Picked = &geo.Coordinates{Lat: *b.Lat, Lng: *b.Lng}
	}
	return in
}

// decodeSubmission accepts a JSON body or a multipart form with an
// optional "photo" file.
func decodeSubmission(r *http.Request, maxUpload int64) (submission.Input, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var body submissionBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return submission.Input{}, err
		}
		return body.input(), nil
	}

	if err := r.ParseMultipartForm(maxUpload); err != nil {
		return submission.Input{}, err
	}
	body := submissionBody{
		Category:    r.FormValue("category"),
		Priority:    r.FormValue("priority"),
		Location:    r.FormValue("location"),
		Description: r.FormValue("description"),
		Phone:       r.FormValue("phone"),
	}
	if v := r.FormValue("anonymous"); v != "" {
		anon, err := strconv.ParseBool(v)
		if err != nil {
			return submission.Input{}, fmt.Errorf("anonymous: %w", err)
		}
		body.Anonymous = anon
	}
	if lat, lng := r.FormValue("lat"), r.FormValue("lng"); lat != "" && lng != "" {
		c, err := parseCoordinates(lat, lng)
		if err != nil {
			return submission.Input{}, err
		}
		body.Lat, body.Lng = &c.Lat, &c.Lng
	}
	in := body.input()

	file, header, err := r.FormFile("photo")
	if errors.Is(err, http.ErrMissingFile) {
		return in, nil
	}
	if err != nil {
		return submission.Input{}, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return submission.Input{}, fmt.Errorf("read photo: %w", err)
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return submission.Input{}, fmt.Errorf("photo must be an image, got %s", contentType)
	}
	in.Photo = &submission.Photo{Filename: header.Filename, ContentType: contentType, Data: data}
	return in, nil
}

func parseCoordinates(lat, lng string) (geo.Coordinates, error) {
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return geo.Coordinates{}, fmt.Errorf("lat: %w", err)
	}
	ln, err := strconv.ParseFloat(lng, 64)
	if err != nil {
		return geo.Coordinates{}, fmt.Errorf("lng: %w", err)
	}
	return geo.Coordinates{Lat: la, Lng: ln}, nil
}

func (s *server) createReport(w http.ResponseWriter, r *http.Request) {
	sess, _ := currentUser(r)
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	in, err := decodeSubmission(r, s.maxUpload)
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, http.StatusRequestEntityTooLarge, "Upload too large", "")
			return
		}
		response.Error(w, http.StatusBadRequest, "Invalid request payload", err.Error())
		return
	}
	in.ReporterName = sess.User.Name

	res, err := s.submit.Submit(r.Context(), in)
	if err != nil {
		response.FromError(w, err, "Failed to submit report")
		return
	}
	response.Success(w, http.StatusCreated, res.Message, res)
}

// deleteReport lets reporters withdraw their own reports.
func (s *server) deleteReport(w http.ResponseWriter, r *http.Request) {
	sess, _ := currentUser(r)
	id := mux.Vars(r)["id"]

	rep, _, err := s.syncer.Report(r.Context(), id)
	if err != nil {
		response.Error(w, http.StatusNotFound, "Report not found", "")
		return
	}
	if rep.Reporter.Name != sess.User.Name {
		response.Error(w, http.StatusForbidden, "You can only delete your own reports", "")
		return
	}
	if err := s.submit.Withdraw(r.Context(), id); err != nil {
		response.FromError(w, err, "Failed to delete report")
		return
	}
	response.Success(w, http.StatusOK, "Report deleted", nil)
}

// upvote toggles the caller's vote.
func (s *server) upvote(w http.ResponseWriter, r *http.Request) {
	sess, _ := currentUser(r)
	id := mux.Vars(r)["id"]

	if _, _, err := s.syncer.Report(r.Context(), id); err != nil {
		response.Error(w, http.StatusNotFound, "Report not found", "")
		return
	}
	s.votes.Upvote(r.Context(), id, sess.User.ID)
	response.Success(w, http.StatusOK, "", votePayload{
		ReportID: id,
		Votes:    s.votes.Votes(r.Context(), id),
		HasVoted: s.votes.HasVoted(r.Context(), id, sess.User.ID),
	})
}

func (s *server) myReports(w http.ResponseWriter, r *http.Request) {
	sess, _ := currentUser(r)
	snap := s.syncer.LoadList(r.Context(), reportsync.ListOptions{
		View:     "profile",
		Hydrate:  reportsync.HydrateAll,
		Reporter: sess.User.Name,
	})
	response.Success(w, http.StatusOK, "", profileFrom(sess.User.Name, snap.Reports, snap.Source))
}

func (s *server) userReports(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	snap := s.syncer.LoadList(r.Context(), reportsync.ListOptions{
		View:     "public-profile",
		Hydrate:  reportsync.HydrateMedia,
		Reporter: name,
	})
	response.Success(w, http.StatusOK, "", profileFrom(name, publicReports(snap.Reports), snap.Source))
}

func (s *server) leaders(w http.ResponseWriter, r *http.Request) {
	snap := s.syncer.LoadList(r.Context(), reportsync.ListOptions{View: "leaders", Hydrate: reportsync.HydrateNone})
	response.Success(w, http.StatusOK, "", leadersFrom(snap))
}

func (s *server) stats(w http.ResponseWriter, r *http.Request) {
	c, src := s.syncer.Counts(r.Context())
	response.Success(w, http.StatusOK, "", reportsync.CountsSnapshot{Counts: c, Source: src})
}

// reverseGeocode names a map-picked point. Lookup failures fall back to
// the formatted coordinates.
func (s *server) reverseGeocode(w http.ResponseWriter, r *http.Request) {
	c, err := parseCoordinates(r.URL.Query().Get("lat"), r.URL.Query().Get("lng"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid coordinates", err.Error())
		return
	}

	text := fmt.Sprintf("%.5f, %.5f", c.Lat, c.Lng)
	if s.places != nil {
		name, err := s.places.Reverse(r.Context(), c)
		switch {
		case err == nil && name != "":
			text = name
		case err != nil && !errors.Is(err, geo.ErrNotFound):
			s.log.WarnContext(r.Context(), "reverse geocode failed", "lat", c.Lat, "lng", c.Lng, "error", err)
		}
	}
	response.Success(w, http.StatusOK, "", placePayload{LocationText: text, Lat: c.Lat, Lng: c.Lng, InIndia: geo.InIndia(c)})
}
