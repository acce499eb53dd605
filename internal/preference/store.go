// Package preference persists the last camera a scanner session ran on.
package preference

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/pkg/types"
)

// lastSlot is the row holding the most recently used camera.
const lastSlot = "last"

// Store is a sqlite-backed camera memory. It satisfies scanner.CameraMemory.
type Store struct {
	db  *sql.DB
	log *logger.Logger
}

// Open opens (or creates) the database at path and applies the schema.
func Open(ctx context.Context, path string, log *logger.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	s := &Store{db: db, log: log}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("Preference", "Camera preferences at %s", path)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	statements := []string{
		`PRAGMA journal_mode = WAL;`,
		`CREATE TABLE IF NOT EXISTS camera_preference (
			slot TEXT PRIMARY KEY,
			device_id TEXT NOT NULL,
			label TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate failed: %w", err)
		}
	}
	return nil
}

// LastCamera returns the id of the last remembered camera, or "" if none.
func (s *Store) LastCamera(ctx context.Context) (string, error) {
	dev, _, err := s.Last(ctx)
	return dev.ID, err
}

// Last returns the last remembered camera and when it was stored. A zero
// device and time mean nothing was stored yet.
func (s *Store) Last(ctx context.Context) (types.CameraDevice, time.Time, error) {
	var (
		dev       types.CameraDevice
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT device_id, label, updated_at FROM camera_preference WHERE slot = ?`, lastSlot,
	).Scan(&dev.ID, &dev.Label, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.CameraDevice{}, time.Time{}, nil
	}
	if err != nil {
		return types.CameraDevice{}, time.Time{}, fmt.Errorf("read last camera: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		s.log.Warn("Preference", "Bad timestamp %q for last camera: %v", updatedAt, err)
	}
	return dev, at.UTC(), nil
}

// RememberCamera stores device as the last used camera.
func (s *Store) RememberCamera(ctx context.Context, device types.CameraDevice) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO camera_preference(slot, device_id, label, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
			device_id=excluded.device_id,
			label=excluded.label,
			updated_at=excluded.updated_at`,
		lastSlot, device.ID, device.Label, now,
	)
	if err != nil {
		return fmt.Errorf("remember camera %s: %w", device.ID, err)
	}
	s.log.Debug("Preference", "Remembered camera %s (%s)", device.ID, device.Label)
	return nil
}
