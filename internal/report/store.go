package report

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore manages reports in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects to dsn with lib/pq and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("report: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("report: ping postgres: %w", err)
	}
	return db, nil
}

// NewPostgresStore creates a new report store backed by the given database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies the embedded schema migrations. It is a no-op when the
// schema is already current.
func (s *PostgresStore) Migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("report: migration source: %w", err)
	}
	driver, err := postgres.WithInstance(s.db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("report: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("report: migrate: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("report: migrate up: %w", err)
	}
	return nil
}

// Insert implements Store. The timestamp comes from the column default.
func (s *PostgresStore) Insert(ctx context.Context, r *Report) error {
	const query = `
		INSERT INTO reports (message_text, report_type, reporter_username, reported_username)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	err := s.db.QueryRowContext(ctx, query,
		r.MessageText,
		int(r.ReportType),
		r.ReporterUsername,
		r.ReportedUsername,
	).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: insert: %w", ErrStoreFailure, err)
	}
	return nil
}

// List implements Lister.
func (s *PostgresStore) List(ctx context.Context, f Filter) ([]Report, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Type != nil {
		args = append(args, int(*f.Type))
		where = append(where, "report_type = $"+strconv.Itoa(len(args)))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		where = append(where, "created_at >= $"+strconv.Itoa(len(args)))
	}

	query := `SELECT id, message_text, report_type, reporter_username, reported_username, created_at FROM reports`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list: %w", ErrStoreFailure, err)
	}
	defer rows.Close()

	var out []Report
	for rows.Next() {
		var (
			r Report
			t int
		)
		if err := rows.Scan(&r.ID, &r.MessageText, &t, &r.ReporterUsername, &r.ReportedUsername, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan: %w", ErrStoreFailure, err)
		}
		r.ReportType = Type(t)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list: %w", ErrStoreFailure, err)
	}
	return out, nil
}
