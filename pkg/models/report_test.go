package models

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		category    string
		description string
		want        string
	}{
		{
			name:        "short description kept whole",
			category:    "Pothole",
			description: "Large pothole blocking traffic near XYZ Chowk since yesterday",
			want:        "Pothole issue: Large pothole blocking traffic near XYZ Chowk since yesterday",
		},
		{
			name:        "exactly twelve words",
			category:    "Street Light",
			description: "one two three four five six seven eight nine ten eleven twelve",
			want:        "Street Light issue: one two three four five six seven eight nine ten eleven twelve",
		},
		{
			name:        "truncated with ellipsis",
			category:    "Garbage Collection",
			description: "one two three four five six seven eight nine ten eleven twelve thirteen",
			want:        "Garbage Collection issue: one two three four five six seven eight nine ten eleven twelve...",
		},
		{
			name:        "empty description",
			category:    "Pothole",
			description: "",
			want:        "Pothole issue: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Summarize(tt.category, tt.description))
		})
	}
}

func TestReport_Expired(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	old := now.Add(-31 * 24 * time.Hour)
	recent := now.Add(-29 * 24 * time.Hour)

	assert.True(t, Report{Status: StatusResolved, SubmittedAt: old}.Expired(now, DefaultRetention))
	assert.False(t, Report{Status: StatusResolved, SubmittedAt: recent}.Expired(now, DefaultRetention))
	assert.False(t, Report{Status: StatusPending, SubmittedAt: old}.Expired(now, DefaultRetention))
	assert.False(t, Report{Status: StatusRejected, SubmittedAt: old}.Expired(now, DefaultRetention))

	assert.True(t, Report{Status: StatusResolved, SubmittedAt: old}.Expired(now, 0), "zero window falls back to the default")
	week := 7 * 24 * time.Hour
	assert.True(t, Report{Status: StatusResolved, SubmittedAt: now.Add(-8 * 24 * time.Hour)}.Expired(now, week))
	assert.False(t, Report{Status: StatusResolved, SubmittedAt: now.Add(-6 * 24 * time.Hour)}.Expired(now, week))
}

func TestApplyRetention(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	list := []Report{
		{ID: "a", Status: StatusResolved, SubmittedAt: now.Add(-40 * 24 * time.Hour)},
		{ID: "b", Status: StatusPending, SubmittedAt: now.Add(-40 * 24 * time.Hour)},
		{ID: "c", Status: StatusResolved, SubmittedAt: now.Add(-time.Hour)},
	}

	got := ApplyRetention(list, now, DefaultRetention)

	assert.Equal(t, []string{"b", "c"}, IDs(got))
	assert.Len(t, list, 3, "input must not be modified")
}

func TestReport_Validate(t *testing.T) {
	t.Parallel()

	valid := Report{ID: "CR-1", Priority: PriorityHigh, Status: StatusPending, Lat: 18.5, Lng: 73.8}
	require.NoError(t, valid.Validate())

	bad := Report{Priority: "Critical", Status: "Open", Lat: math.NaN()}
	err := bad.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	fields := verr.FieldMap()
	assert.Contains(t, fields, "report_id")
	assert.Contains(t, fields, "priority")
	assert.Contains(t, fields, "status")
	assert.Contains(t, fields, "lat,lng")
}

func TestReport_Cover(t *testing.T) {
	t.Parallel()

	_, ok := Report{}.Cover()
	assert.False(t, ok)

	cover, ok := Report{Media: []string{"https://a/1.jpg", "https://a/2.jpg"}}.Cover()
	assert.True(t, ok)
	assert.Equal(t, "https://a/1.jpg", cover)
}

func TestChangeEvent_Validate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ChangeEvent{Type: ChangeTimelineInsert, ReportID: "CR-1"}.Validate())
	assert.ErrorIs(t, ChangeEvent{Type: "truncate", ReportID: "CR-1"}.Validate(), ErrInvalidRow)
	assert.ErrorIs(t, ChangeEvent{Type: ChangeInsert}.Validate(), ErrInvalidRow)
}
