package models

import (
	"fmt"
	"time"
)

type ChangeType string

const (
	ChangeInsert         ChangeType = "insert"
	ChangeUpdate         ChangeType = "update"
	ChangeDelete         ChangeType = "delete"
	ChangeTimelineInsert ChangeType = "timeline-insert"
)

func (t ChangeType) Valid() bool {
	switch t {
	case ChangeInsert, ChangeUpdate, ChangeDelete, ChangeTimelineInsert:
		return true
	}
	return false
}

// ChangeEvent is one notification from the remote change channel.
// New is set for insert and update, Old for update and delete, Timeline
// for timeline-insert.
type ChangeEvent struct {
	Type     ChangeType    `json:"type"`
	ReportID string        `json:"report_id"`
	New      *Report       `json:"new,omitempty"`
	Old      *Report       `json:"old,omitempty"`
	Timeline *TimelineItem `json:"timeline,omitempty"`
	At       time.Time     `json:"at"`
}

func (e ChangeEvent) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("%w: unknown change type %q", ErrInvalidRow, e.Type)
	}
	if e.ReportID == "" {
		return fmt.Errorf("%w: change event without report id", ErrInvalidRow)
	}
	return nil
}
