// Package sqlstore persists registered audiences and detection records in
// PostgreSQL or SQLite through sqlx.
package sqlstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/tinywideclouds/go-alert-dispatcher/pkg/detection"
	"github.com/tinywideclouds/go-alert-dispatcher/pkg/dispatch"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

var (
	_ dispatch.AudienceRegistrar = (*Store)(nil)
	_ dispatch.DetectionRecorder = (*Store)(nil)
)

type audienceRow struct {
	PlatformID string `db:"platform_id"`
	UserID     string `db:"user_id"`
}

type detectionRow struct {
	ImageID         string `db:"image_id"`
	Channel         string `db:"channel"`
	CapturedAt      int64  `db:"captured_at"`
	FileFormat      string `db:"file_format"`
	DrawnImagePath  string `db:"drawn_image_path"`
	DetectionMethod string `db:"detection_method"`
}

type objectRow struct {
	ImageID     string  `db:"image_id"`
	ObjectIndex int     `db:"object_index"`
	Label       string  `db:"label"`
	Score       float64 `db:"score"`
	X1          int     `db:"x1"`
	Y1          int     `db:"y1"`
	X2          int     `db:"x2"`
	Y2          int     `db:"y2"`
	Meta        string  `db:"meta"`
}

// Open connects with the named driver and verifies the connection.
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (*Store, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// One writer; also keeps ":memory:" databases on a single connection.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable sqlite foreign keys: %w", err)
		}
	}
	return New(db, logger), nil
}

func New(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger.With("component", "SQLStore", "driver", db.DriverName())}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (s *Store) RegisterAudience(ctx context.Context, a dispatch.RegisteredAudience) error {
	_, err := s.db.NamedExecContext(ctx, queryRegisterAudience, audienceRow{PlatformID: a.PlatformID, UserID: a.UserID})
	if err != nil {
		return fmt.Errorf("failed to register audience: %w", err)
	}
	return nil
}

func (s *Store) UnregisterAudience(ctx context.Context, a dispatch.RegisteredAudience) error {
	_, err := s.db.NamedExecContext(ctx, queryUnregisterAudience, audienceRow{PlatformID: a.PlatformID, UserID: a.UserID})
	if err != nil {
		return fmt.Errorf("failed to unregister audience: %w", err)
	}
	return nil
}

func (s *Store) ListAudience(ctx context.Context, platform string) ([]string, error) {
	ids := make([]string, 0)
	if err := s.db.SelectContext(ctx, &ids, s.db.Rebind(queryListAudience), platform); err != nil {
		return nil, fmt.Errorf("failed to list audience for %s: %w", platform, err)
	}
	return ids, nil
}

// RecordDetection writes the result and its objects in one transaction,
// replacing any objects recorded earlier for the same image.
func (s *Store) RecordDetection(ctx context.Context, r *detection.Result) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Warn("Rollback failed", "err", rbErr)
			}
		}
	}()

	imageID := r.ImageID.String()
	_, err = tx.NamedExecContext(ctx, queryUpsertDetection, detectionRow{
		ImageID:         imageID,
		Channel:         r.ImageID.Channel,
		CapturedAt:      r.ImageID.Timestamp,
		FileFormat:      r.ImageID.FileFormat,
		DrawnImagePath:  r.DrawnImagePath,
		DetectionMethod: r.DetectionMethod,
	})
	if err != nil {
		return fmt.Errorf("failed to record detection %s: %w", imageID, err)
	}

	if _, err = tx.ExecContext(ctx, tx.Rebind(queryDeleteObjects), imageID); err != nil {
		return fmt.Errorf("failed to clear objects for %s: %w", imageID, err)
	}

	for i, o := range r.DetectedObjects {
		_, err = tx.NamedExecContext(ctx, queryInsertObject, objectRow{
			ImageID:     imageID,
			ObjectIndex: i,
			Label:       o.Label,
			Score:       o.Score,
			X1:          o.X1,
			Y1:          o.Y1,
			X2:          o.X2,
			Y2:          o.Y2,
			Meta:        o.Meta,
		})
		if err != nil {
			return fmt.Errorf("failed to record object %d of %s: %w", i, imageID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit detection %s: %w", imageID, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle.
func (s *Store) DB() *sqlx.DB {
	return s.db
}
