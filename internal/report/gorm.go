package report

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// reportRow is the gorm model for the reports table.
type reportRow struct {
	ID               int64     `gorm:"primaryKey;autoIncrement"`
	MessageText      string    `gorm:"type:text;not null"`
	ReportType       int       `gorm:"not null;index"`
	ReporterUsername string    `gorm:"not null"`
	ReportedUsername string    `gorm:"not null"`
	CreatedAt        time.Time `gorm:"autoCreateTime;index"`
}

func (reportRow) TableName() string { return "reports" }

// GormStore manages reports through gorm. It backs single-node deployments
// on SQLite.
type GormStore struct {
	db *gorm.DB
}

// OpenSQLite opens (creating if needed) a SQLite database at path and
// migrates the reports table.
func OpenSQLite(path string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("report: open sqlite: %w", err)
	}
	return NewGormStore(db)
}

// NewGormStore wraps db and migrates the reports table.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&reportRow{}); err != nil {
		return nil, fmt.Errorf("report: auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Insert implements Store.
func (s *GormStore) Insert(ctx context.Context, r *Report) error {
	row := reportRow{
		MessageText:      r.MessageText,
		ReportType:       int(r.ReportType),
		ReporterUsername: r.ReporterUsername,
		ReportedUsername: r.ReportedUsername,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("%w: create: %w", ErrStoreFailure, err)
	}
	r.ID = row.ID
	r.CreatedAt = row.CreatedAt
	return nil
}

// List implements Lister.
func (s *GormStore) List(ctx context.Context, f Filter) ([]Report, error) {
	q := s.db.WithContext(ctx).Model(&reportRow{})
	if f.Type != nil {
		q = q.Where("report_type = ?", int(*f.Type))
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since)
	}
	q = q.Order("created_at DESC").Order("id DESC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var rows []reportRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: find: %w", ErrStoreFailure, err)
	}

	out := make([]Report, 0, len(rows))
	for _, row := range rows {
		out = append(out, Report{
			ID:               row.ID,
			MessageText:      row.MessageText,
			ReportType:       Type(row.ReportType),
			ReporterUsername: row.ReporterUsername,
			ReportedUsername: row.ReportedUsername,
			CreatedAt:        row.CreatedAt,
		})
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
