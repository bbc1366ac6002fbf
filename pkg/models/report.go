package models

import (
	"math"
	"strings"
	"time"
)

type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
	PriorityUrgent Priority = "Urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type Status string

const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "In Progress"
	StatusResolved   Status = "Resolved"
	StatusRejected   Status = "Rejected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusResolved, StatusRejected:
		return true
	}
	return false
}

// DefaultRetention is how long a resolved report stays visible after
// submission unless configured otherwise.
const DefaultRetention = 30 * 24 * time.Hour

// summaryWords is the number of description words kept in a summary.
const summaryWords = 12

type Reporter struct {
	Name      string  `json:"name"`
	Phone     *string `json:"phone"`
	Anonymous bool    `json:"anonymous"`
}

type TimelineItem struct {
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	At     time.Time `json:"at"`
}

// Report is a citizen-submitted civic issue.
type Report struct {
	ID                   string         `json:"report_id"`
	Category             string         `json:"category"`
	Description          string         `json:"description"`
	Summary              string         `json:"summary"`
	Priority             Priority       `json:"priority"`
	Status               Status         `json:"status"`
	SubmittedAt          time.Time      `json:"submitted_at"`
	LocationText         string         `json:"location_text"`
	Lat                  float64        `json:"lat"`
	Lng                  float64        `json:"lng"`
	Reporter             Reporter       `json:"reporter"`
	Media                []string       `json:"media"`
	AssignedDepartment   *string        `json:"assigned_department"`
	AssignedOfficerID    *string        `json:"assigned_officer_id"`
	AssignedOfficerName  *string        `json:"assigned_officer_name"`
	AssignedOfficerPhone *string        `json:"assigned_officer_phone"`
	AssignedOfficerEmail *string        `json:"assigned_officer_email"`
	Deadline             *time.Time     `json:"deadline"`
	Timeline             []TimelineItem `json:"timeline"`
}

// Cover returns the canonical cover image, if any.
func (r Report) Cover() (string, bool) {
	if len(r.Media) == 0 {
		return "", false
	}
	return r.Media[0], true
}

// Expired reports whether r falls outside the retention window at now.
// Only resolved reports expire. A non-positive window means DefaultRetention.
func (r Report) Expired(now time.Time, window time.Duration) bool {
	if window <= 0 {
		window = DefaultRetention
	}
	return r.Status == StatusResolved && r.SubmittedAt.Before(now.Add(-window))
}

// Validate checks the fields every stored report must carry.
func (r Report) Validate() error {
	var errs []FieldError
	if strings.TrimSpace(r.ID) == "" {
		errs = append(errs, FieldError{Field: "report_id", Message: "must not be empty"})
	}
	if !r.Priority.Valid() {
		errs = append(errs, FieldError{Field: "priority", Message: "unknown priority " + string(r.Priority)})
	}
	if !r.Status.Valid() {
		errs = append(errs, FieldError{Field: "status", Message: "unknown status " + string(r.Status)})
	}
	if math.IsNaN(r.Lat) || math.IsInf(r.Lat, 0) || math.IsNaN(r.Lng) || math.IsInf(r.Lng, 0) {
		errs = append(errs, FieldError{Field: "lat,lng", Message: "must be finite"})
	}
	if len(errs) > 0 {
		return NewValidationErrors(errs)
	}
	return nil
}

// Summarize builds the list-card summary: the category followed by the
// first twelve words of the description, with an ellipsis when truncated.
func Summarize(category, description string) string {
	words := strings.Fields(description)
	truncated := len(words) > summaryWords
	if truncated {
		words = words[:summaryWords]
	}
	s := category + " issue: " + strings.Join(words, " ")
	if truncated {
		s += "..."
	}
	return s
}

// ApplyRetention drops expired reports, preserving order. The input slice
// is not modified.
func ApplyRetention(list []Report, now time.Time, window time.Duration) []Report {
	out := make([]Report, 0, len(list))
	for _, r := range list {
		if !r.Expired(now, window) {
			out = append(out, r)
		}
	}
	return out
}

// IDs returns the report ids of list in order.
func IDs(list []Report) []string {
	ids := make([]string, len(list))
	for i, r := range list {
		ids[i] = r.ID
	}
	return ids
}

// Counts are the home-screen aggregate counters.
type Counts struct {
	Total      int64 `json:"total"`
	Resolved   int64 `json:"resolved"`
	InProgress int64 `json:"inProgress"`
}
