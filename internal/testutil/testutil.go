// Package testutil provides database and fixture helpers shared by
// package tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/fleetwatch/internal/auth"
	"github.com/nerrad567/fleetwatch/internal/clock"
	"github.com/nerrad567/fleetwatch/internal/device"
	"github.com/nerrad567/fleetwatch/internal/infrastructure/database"
	_ "github.com/nerrad567/fleetwatch/migrations" // registers the schema
)

// Epoch is the starting instant for manual clocks in tests.
var Epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// OpenDB opens a migrated SQLite database under t.TempDir and closes it
// when the test ends.
func OpenDB(t *testing.T) *database.DB {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "fleetwatch.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return db
}

// NewClock returns a manual clock set to Epoch.
func NewClock() *clock.Manual {
	return clock.NewManual(Epoch)
}

// NewDevice returns an unsaved Device with sensible defaults.
// Override individual fields with options.
func NewDevice(opts ...func(*device.Device)) *device.Device {
	d := &device.Device{
		DeviceID: "tablet-001",
		Name:     "Lobby Tablet",
		Location: device.Location{Name: "Lobby", Floor: "1", Building: "HQ"},
		Tags:     []string{"kiosk"},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// WithDeviceID sets the external identifier.
func WithDeviceID(id string) func(*device.Device) {
	return func(d *device.Device) { d.DeviceID = id }
}

// WithName sets the display name.
func WithName(name string) func(*device.Device) {
	return func(d *device.Device) { d.Name = name }
}

// WithGroup places the device in a group.
func WithGroup(groupID string) func(*device.Device) {
	return func(d *device.Device) { d.GroupID = groupID }
}

// CreateDevice registers a device through repo and fails the test on error.
func CreateDevice(t *testing.T, repo device.Repository, opts ...func(*device.Device)) *device.Device {
	t.Helper()
	d := NewDevice(opts...)
	if err := repo.Create(context.Background(), d); err != nil {
		t.Fatalf("creating device %s: %v", d.DeviceID, err)
	}
	return d
}

// OnlineDevice registers a device and records an ONLINE status report at
// heartbeat, returning the stored device.
func OnlineDevice(t *testing.T, repo device.Repository, heartbeat time.Time, opts ...func(*device.Device)) *device.Device {
	t.Helper()
	ctx := context.Background()
	d := CreateDevice(t, repo, opts...)
	if err := repo.ApplyStatusReport(ctx, d.ID, device.StatusReport{Status: device.StatusOnline}, heartbeat); err != nil {
		t.Fatalf("marking %s online: %v", d.DeviceID, err)
	}
	stored, err := repo.GetByID(ctx, d.ID)
	if err != nil {
		t.Fatalf("reloading %s: %v", d.DeviceID, err)
	}
	return stored
}

// AccessToken signs a fifteen-minute HS256 token for userID.
func AccessToken(t *testing.T, userID, secret string) string {
	t.Helper()
	now := time.Now()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(15 * time.Minute)),
			ID:        uuid.NewString(),
		},
		UserID: userID,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing access token: %v", err)
	}
	return token
}
