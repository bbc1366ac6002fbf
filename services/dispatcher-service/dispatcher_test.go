package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civic-reporting/pkg/models"
)

type assignment struct {
	id, department, actor string
}

type fakeAssigner struct {
	mu   sync.Mutex
	err  error
	done []assignment
}

func (f *fakeAssigner) AssignDepartment(_ context.Context, id, department, actor string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.done = append(f.done, assignment{id, department, actor})
	return nil
}

func (f *fakeAssigner) assignments() []assignment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]assignment(nil), f.done...)
}

func newTestDispatcher() (*dispatcher, *fakeAssigner) {
	f := &fakeAssigner{}
	return &dispatcher{assign: f, log: slog.New(slog.NewTextHandler(io.Discard, nil))}, f
}

func TestDepartmentFor(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
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
		"Stray Animals":      DeptMunicipal,
		"":                   DeptMunicipal,
	}
	for category, want := range tests {
		assert.Equal(t, want, departmentFor(category), category)
	}
}

func TestHandle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("insert is routed", func(t *testing.T) {
		t.Parallel()
		d, f := newTestDispatcher()
		d.handle(ctx, models.ChangeEvent{Type: models.ChangeInsert, ReportID: "CR-1", New: &models.Report{ID: "CR-1", Category: "Street Light"}})
		assert.Equal(t, []assignment{{"CR-1", DeptElectrical, Actor}}, f.assignments())
	})

	t.Run("other events are ignored", func(t *testing.T) {
		t.Parallel()
		d, f := newTestDispatcher()
		r := &models.Report{ID: "CR-1", Category: "Pothole"}
		d.handle(ctx, models.ChangeEvent{Type: models.ChangeUpdate, ReportID: "CR-1", New: r})
		d.handle(ctx, models.ChangeEvent{Type: models.ChangeDelete, ReportID: "CR-1", Old: r})
		d.handle(ctx, models.ChangeEvent{Type: models.ChangeInsert, ReportID: "CR-2"})
		assert.Empty(t, f.assignments())
	})

	t.Run("already assigned", func(t *testing.T) {
		t.Parallel()
		d, f := newTestDispatcher()
		dept := DeptParks
		d.handle(ctx, models.ChangeEvent{Type: models.ChangeInsert, ReportID: "CR-1", New: &models.Report{ID: "CR-1", Category: "Pothole", AssignedDepartment: &dept}})
		assert.Empty(t, f.assignments())
	})

	t.Run("assign failure is logged", func(t *testing.T) {
		t.Parallel()
		d, f := newTestDispatcher()
		f.err = errors.New("connection reset")
		assert.NotPanics(t, func() {
			d.handle(ctx, models.ChangeEvent{Type: models.ChangeInsert, ReportID: "CR-1", New: &models.Report{ID: "CR-1", Category: "Pothole"}})
		})
	})
}

func TestRun(t *testing.T) {
	t.Parallel()
	d, f := newTestDispatcher()

	deliveries := make(chan amqp.Delivery, 3)
	deliveries <- amqp.Delivery{Body: []byte(`not json`)}
	deliveries <- amqp.Delivery{Body: []byte(`{"type":"insert","report_id":"CR-7","new":{"report_id":"CR-7","category":"Sewage Overflow"}}`)}
	close(deliveries)

	err := d.run(context.Background(), deliveries)
	assert.ErrorIs(t, err, errDeliveriesClosed)
	require.Len(t, f.assignments(), 1)
	assert.Equal(t, assignment{"CR-7", DeptWater, Actor}, f.assignments()[0])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan error, 1)
	go func() { done <- d.run(ctx, make(chan amqp.Delivery)) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run did not stop after cancel")
	}
}
