// Package submission validates and records new citizen reports.
package submission

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"civic-reporting/pkg/caption"
	"civic-reporting/pkg/geo"
	"civic-reporting/pkg/models"
)

const (
	MsgSynced         = "Report submitted and synced with government portal."
	MsgSyncFailed     = "Report submitted locally. Sync failed; will appear on government once connection is available."
	MsgSyncNotEnabled = "Report submitted locally. It will appear on the government side once remote sync is configured."

	msgBadLocation   = "Please enter a valid location in India."
	msgOutsideIndia  = "Reports are accepted only within India."
	msgPhotoMismatch = "The attached photo does not appear to match the description."
)

type Geocoder interface {
	Geocode(ctx context.Context, address string) (geo.Coordinates, error)
}

type ImageChecker interface {
	Check(ctx context.Context, image []byte, description string) caption.Result
}

type LocalStore interface {
	LoadReports(ctx context.Context) []models.Report
	SaveReports(ctx context.Context, list []models.Report)
}

type Remote interface {
	Enabled() bool
	InsertReport(ctx context.Context, r models.Report) error
	UploadReportPhoto(ctx context.Context, reportID, filename string, r io.Reader, size int64, contentType string) (string, error)
	DeleteReport(ctx context.Context, id string) error
}

type Photo struct {
	Filename    string
	ContentType string
	Data        []byte
}

type Input struct {
	Category     string
	Priority     string
	LocationText string
	Description  string
	// Picked are coordinates chosen on the map; they skip geocoding.
	Picked *geo.Coordinates

	ReporterName string
	Phone        string
	Anonymous    bool

	Photo *Photo
}

type Result struct {
	Report  models.Report `json:"report"`
	Synced  bool          `json:"synced"`
	Message string        `json:"message"`
}

type Service struct {
	local   LocalStore
	remote  Remote
	geocode Geocoder
	images  ImageChecker
	log     *slog.Logger
	now     func() time.Time
	newID   func() string

	// mu serializes the read-modify-write of the local list.
	mu sync.Mutex
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

func NewService(local LocalStore, remote Remote, geocoder Geocoder, images ImageChecker, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		local:   local,
		remote:  remote,
		geocode: geocoder,
		images:  images,
		log:     logger.With("service", "submission"),
		now:     time.Now,
		newID:   NewReportID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewReportID returns "CR-" followed by eight upper-case hex digits.
func NewReportID() string {
	id := uuid.New()
	return "CR-" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8])
}

// Validate checks the required fields without any I/O.
func Validate(in Input) error {
	var errs []models.FieldError
	if strings.TrimSpace(in.Category) == "" {
		errs = append(errs, models.FieldError{Field: "category", Message: "Please select a category."})
	}
	if strings.TrimSpace(in.Priority) == "" {
		errs = append(errs, models.FieldError{Field: "priority", Message: "Please select a priority."})
	} else if !models.Priority(in.Priority).Valid() {
		errs = append(errs, models.FieldError{Field: "priority", Message: "Please select a valid priority."})
	}
	if strings.TrimSpace(in.LocationText) == "" {
		errs = append(errs, models.FieldError{Field: "location", Message: "Location is required."})
	}
	if strings.TrimSpace(in.Description) == "" {
		errs = append(errs, models.FieldError{Field: "description", Message: "Description is required."})
	}
	if len(errs) > 0 {
		return models.NewValidationErrors(errs)
	}
	return nil
}

// Submit validates in, stores the new report locally and mirrors it to
// the remote backend when one is configured. Validation failures return a
// *models.ValidationError and leave every store untouched.
func (s *Service) Submit(ctx context.Context, in Input) (Result, error) {
	if err := Validate(in); err != nil {
		return Result{}, err
	}

	coords, err := s.resolveLocation(ctx, in)
	if err != nil {
		return Result{}, err
	}

	if in.Photo != nil && s.images != nil {
		if res := s.images.Check(ctx, in.Photo.Data, in.Description); !res.OK {
			reason := res.Reason
			if reason == "" {
				reason = msgPhotoMismatch
			}
			return Result{}, models.NewFormError(reason)
		}
	}

	r := s.newReport(in, coords)
	remoteOn := s.remote != nil && s.remote.Enabled()

	if in.Photo != nil && remoteOn {
		url, err := s.remote.UploadReportPhoto(ctx, r.ID, in.Photo.Filename,
			bytes.NewReader(in.Photo.Data), int64(len(in.Photo.Data)), in.Photo.ContentType)
		if err != nil {
			s.log.WarnContext(ctx, "photo upload failed", "report_id", r.ID, "error", err)
		} else {
			r.Media = []string{url}
		}
	}

	s.mu.Lock()
	list := s.local.LoadReports(ctx)
	s.local.SaveReports(ctx, append([]models.Report{r}, list...))
	s.mu.Unlock()

	if !remoteOn {
		return Result{Report: r, Message: MsgSyncNotEnabled}, nil
	}
	if err := s.remote.InsertReport(ctx, r); err != nil {
		s.log.WarnContext(ctx, "report saved locally, remote sync failed", "report_id", r.ID, "error", err)
		return Result{Report: r, Message: MsgSyncFailed}, nil
	}
	s.log.InfoContext(ctx, "report submitted", "report_id", r.ID, "category", r.Category)
	return Result{Report: r, Synced: true, Message: MsgSynced}, nil
}

func (s *Service) resolveLocation(ctx context.Context, in Input) (geo.Coordinates, error) {
	var c geo.Coordinates
	if in.Picked != nil {
		c = *in.Picked
	} else {
		if s.geocode == nil {
			return c, models.NewFieldError("location", msgBadLocation)
		}
		var err error
		c, err = s.geocode.Geocode(ctx, in.LocationText)
		if err != nil {
			if !errors.Is(err, geo.ErrNotFound) {
				s.log.WarnContext(ctx, "geocode failed", "location", in.LocationText, "error", err)
			}
			return c, models.NewFieldError("location", msgBadLocation)
		}
	}
	if !geo.InIndia(c) {
		return c, models.NewFieldError("location", msgOutsideIndia)
	}
	return c, nil
}

func (s *Service) newReport(in Input, c geo.Coordinates) models.Report {
	now := s.now().UTC()
	name := strings.TrimSpace(in.ReporterName)
	if name == "" {
		name = models.DefaultReporterName
	}
	var phone *string
	if p := strings.TrimSpace(in.Phone); p != "" {
		phone = &p
	}

	return models.Report{
		ID:           s.newID(),
		Category:     in.Category,
		Description:  in.Description,
		Summary:      models.Summarize(in.Category, in.Description),
		Priority:     models.Priority(in.Priority),
		Status:       models.StatusPending,
		SubmittedAt:  now,
		LocationText: strings.TrimSpace(in.LocationText),
		Lat:          c.Lat,
		Lng:          c.Lng,
		Reporter:     models.Reporter{Name: name, Phone: phone, Anonymous: in.Anonymous},
		Media:        []string{},
		Timeline: []models.TimelineItem{
			{Actor: "System", Action: "Report created", At: now},
		},
	}
}

// Withdraw removes report id from the local list and, when remote sync is
// configured, from the backend. It returns models.ErrNotFound only when
// neither side had the report.
func (s *Service) Withdraw(ctx context.Context, id string) error {
	s.mu.Lock()
	list := s.local.LoadReports(ctx)
	kept := slices.DeleteFunc(slices.Clone(list), func(r models.Report) bool { return r.ID == id })
	removedLocally := len(kept) != len(list)
	if removedLocally {
		s.local.SaveReports(ctx, kept)
	}
	s.mu.Unlock()

	if s.remote == nil || !s.remote.Enabled() {
		if !removedLocally {
			return models.ErrNotFound
		}
		return nil
	}
	if err := s.remote.DeleteReport(ctx, id); err != nil {
		if errors.Is(err, models.ErrNotFound) && removedLocally {
			return nil
		}
		return fmt.Errorf("withdraw %s: %w", id, err)
	}
	s.log.InfoContext(ctx, "report withdrawn", "report_id", id)
	return nil
}
