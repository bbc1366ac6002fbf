package gateway

import (
	"fmt"
	"time"

	"civic-reporting/pkg/models"
)

// ReportRow is the reports table.
type ReportRow struct {
	ID                   string     `gorm:"primaryKey;column:id"`
	Category             string     `gorm:"not null"`
	Description          string     `gorm:"not null"`
	Summary              *string
	Priority             string     `gorm:"not null"`
	Status               string     `gorm:"not null;index"`
	SubmittedAt          time.Time  `gorm:"not null;index"`
	LocationText         string
	Lat                  float64
	Lng                  float64
	ReporterName         *string
	ReporterPhone        *string
	Anonymous            bool       `gorm:"not null;default:false"`
	AssignedDepartment   *string
	AssignedOfficerID    *string
	AssignedOfficerName  *string
	AssignedOfficerPhone *string
	AssignedOfficerEmail *string
	Deadline             *time.Time
}

func (ReportRow) TableName() string { return "reports" }

// TimelineRow is the report_timeline table.
type TimelineRow struct {
	ID       uint      `gorm:"primaryKey"`
	ReportID string    `gorm:"not null;index"`
	Actor    string    `gorm:"not null"`
	Action   string    `gorm:"not null"`
	At       time.Time `gorm:"not null;index"`
}

func (TimelineRow) TableName() string { return "report_timeline" }

// toReport maps a row to a Report and validates it. Media and timeline are
// left empty; they are hydrated separately.
func toReport(row ReportRow) (models.Report, error) {
	r := models.Report{
		ID:                   row.ID,
		Category:             row.Category,
		Description:          row.Description,
		Priority:             models.Priority(row.Priority),
		Status:               models.Status(row.Status),
		SubmittedAt:          row.SubmittedAt,
		LocationText:         row.LocationText,
		Lat:                  row.Lat,
		Lng:                  row.Lng,
		Reporter:             models.Reporter{Name: models.DefaultReporterName, Phone: row.ReporterPhone, Anonymous: row.Anonymous},
		Media:                []string{},
		AssignedDepartment:   row.AssignedDepartment,
		AssignedOfficerID:    row.AssignedOfficerID,
		AssignedOfficerName:  row.AssignedOfficerName,
		AssignedOfficerPhone: row.AssignedOfficerPhone,
		AssignedOfficerEmail: row.AssignedOfficerEmail,
		Deadline:             row.Deadline,
		Timeline:             []models.TimelineItem{},
	}
	if row.ReporterName != nil && *row.ReporterName != "" {
		r.Reporter.Name = *row.ReporterName
	}
	if row.Summary != nil {
		r.Summary = *row.Summary
	} else {
		r.Summary = models.Summarize(row.Category, row.Description)
	}

	if err := r.Validate(); err != nil {
		return models.Report{}, fmt.Errorf("%w: report %q: %v", models.ErrInvalidRow, row.ID, err)
	}
	return r, nil
}

func fromReport(r models.Report) ReportRow {
	summary := r.Summary
	name := r.Reporter.Name
	return ReportRow{
		ID:                   r.ID,
		Category:             r.Category,
		Description:          r.Description,
		Summary:              &summary,
		Priority:             string(r.Priority),
		Status:               string(r.Status),
		SubmittedAt:          r.SubmittedAt,
		LocationText:         r.LocationText,
		Lat:                  r.Lat,
		Lng:                  r.Lng,
		ReporterName:         &name,
		ReporterPhone:        r.Reporter.Phone,
		Anonymous:            r.Reporter.Anonymous,
		AssignedDepartment:   r.AssignedDepartment,
		AssignedOfficerID:    r.AssignedOfficerID,
		AssignedOfficerName:  r.AssignedOfficerName,
		AssignedOfficerPhone: r.AssignedOfficerPhone,
		AssignedOfficerEmail: r.AssignedOfficerEmail,
		Deadline:             r.Deadline,
	}
}

func toTimelineItem(row TimelineRow) models.TimelineItem {
	return models.TimelineItem{Actor: row.Actor, Action: row.Action, At: row.At}
}
