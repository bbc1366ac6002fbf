package main

import (
	"context"
	"errors"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"civic-reporting/pkg/gateway"
	"civic-reporting/pkg/models"
)

// Actor is recorded on the timeline entries the dispatcher appends.
const Actor = "Dispatcher"

const (
	DeptPublicWorks = "Public Works"
	DeptSanitation  = "Sanitation"
	DeptElectrical  = "Electrical"
	DeptWater       = "Water Supply & Sewerage"
	DeptParks       = "Parks & Gardens"
	DeptMunicipal   = "Municipal Corporation"
)

var departments = map[string]string{
	"Pothole":            DeptPublicWorks,
	"Road Damage":        DeptPublicWorks,
	"Garbage Collection": DeptSanitation,
	"Illegal Dumping":    DeptSanitation,
	"Street Light":       DeptElectrical,
	"Water Leakage":      DeptWater,
	"Drainage Block":     DeptWater,
	"Sewage Overflow":    DeptWater,
	"Tree Falling Risk":  DeptParks,
	"Park Maintenance":   DeptParks,
}

// departmentFor routes a report category; unknown categories go to the
// municipal corporation.
func departmentFor(category string) string {
	if d, ok := departments[category]; ok {
		return d
	}
	return DeptMunicipal
}

type assigner interface {
	AssignDepartment(ctx context.Context, id, department, actor string) error
}

type dispatcher struct {
	assign assigner
	log    *slog.Logger
}

// handle triages newly inserted reports. Other event types, and reports
// that already carry a department, are ignored.
func (d *dispatcher) handle(ctx context.Context, e models.ChangeEvent) {
	if e.Type != models.ChangeInsert {
		return
	}
	if e.New == nil {
		d.log.WarnContext(ctx, "insert event without report", "report_id", e.ReportID)
		return
	}
	if e.New.AssignedDepartment != nil && *e.New.AssignedDepartment != "" {
		return
	}

	dept := departmentFor(e.New.Category)
	if err := d.assign.AssignDepartment(ctx, e.ReportID, dept, Actor); err != nil {
		d.log.ErrorContext(ctx, "assign department", "report_id", e.ReportID, "department", dept, "error", err)
		return
	}
	d.log.InfoContext(ctx, "report routed", "report_id", e.ReportID, "category", e.New.Category, "department", dept)
}

var errDeliveriesClosed = errors.New("delivery channel closed")

// run consumes deliveries until ctx is done or the channel closes.
func (d *dispatcher) run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return errDeliveriesClosed
			}
			if e, ok := gateway.DecodeChangeEvent(msg.Body, d.log); ok {
				d.handle(ctx, e)
			}
		}
	}
}
