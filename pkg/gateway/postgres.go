package gateway

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"civic-reporting/pkg/models"
)

// PostgresRepository implements Repository with gorm.
type PostgresRepository struct {
	db *gorm.DB
}

func NewPostgresRepository(db *gorm.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Migrate creates or updates both tables.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&ReportRow{}, &TimelineRow{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListReports(ctx context.Context, page Page) ([]ReportRow, error) {
	q := r.db.WithContext(ctx).Order("submitted_at DESC")
	if page.Limit > 0 {
		q = q.Limit(page.Limit).Offset(max(0, page.Offset))
	}
	var rows []ReportRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *PostgresRepository) GetReport(ctx context.Context, id string) (ReportRow, error) {
	var row ReportRow
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ReportRow{}, models.ErrNotFound
	}
	return row, err
}

func (r *PostgresRepository) InsertReport(ctx context.Context, row ReportRow, created TimelineRow) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return models.ErrAlreadyExists
			}
			return err
		}
		return tx.Create(&created).Error
	})
}

func (r *PostgresRepository) DeleteTimeline(ctx context.Context, reportID string) error {
	return r.db.WithContext(ctx).Where("report_id = ?", reportID).Delete(&TimelineRow{}).Error
}

func (r *PostgresRepository) DeleteReport(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&ReportRow{}).Error
}

func (r *PostgresRepository) ListTimelines(ctx context.Context, reportIDs []string) ([]TimelineRow, error) {
	var rows []TimelineRow
	err := r.db.WithContext(ctx).
		Where("report_id IN ?", reportIDs).
		Order("at ASC").Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *PostgresRepository) CountReports(ctx context.Context, f CountFilter) (int64, error) {
	q := r.db.WithContext(ctx).Model(&ReportRow{})
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if !f.SubmittedBefore.IsZero() {
		q = q.Where("submitted_at < ?", f.SubmittedBefore)
	}
	if !f.SubmittedSince.IsZero() {
		q = q.Where("submitted_at >= ?", f.SubmittedSince)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}

func (r *PostgresRepository) AssignDepartment(ctx context.Context, id, department string, entry TimelineRow) (before, after ReportRow, err error) {
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).Take(&before).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrNotFound
			}
			return err
		}
		if err := tx.Model(&ReportRow{}).Where("id = ?", id).Update("assigned_department", department).Error; err != nil {
			return err
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Take(&after).Error
	})
	return before, after, err
}
