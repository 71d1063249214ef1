package device_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/fleetwatch/internal/clock"
	"github.com/nerrad567/fleetwatch/internal/device"
	"github.com/nerrad567/fleetwatch/internal/testutil"
)

func newRepo(t *testing.T) (*device.SQLiteRepository, *clock.Manual) {
	t.Helper()
	clk := testutil.NewClock()
	db := testutil.OpenDB(t)
	return device.NewSQLiteRepository(db.DB, clk), clk
}

func TestCreate_StartsPending(t *testing.T) {
	repo, clk := newRepo(t)
	ctx := context.Background()

	d := testutil.NewDevice()
	d.Status = device.StatusOnline // ignored on create
	require.NoError(t, repo.Create(ctx, d))

	assert.NotEmpty(t, d.ID)
	assert.Equal(t, device.StatusPending, d.Status)

	stored, err := repo.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "tablet-001", stored.DeviceID)
	assert.Equal(t, device.StatusPending, stored.Status)
	assert.Nil(t, stored.LastSeen)
	assert.Nil(t, stored.LastHeartbeat)
	assert.Equal(t, []string{"kiosk"}, stored.Tags)
	assert.Equal(t, device.Location{Name: "Lobby", Floor: "1", Building: "HQ"}, stored.Location)
	assert.True(t, stored.CreatedAt.Equal(clk.Now()))
}

func TestCreate_DuplicateDeviceID(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, testutil.NewDevice()))
	err := repo.Create(ctx, testutil.NewDevice(testutil.WithName("Other")))
	assert.ErrorIs(t, err, device.ErrDeviceExists)
}

func TestCreate_Validation(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	assert.ErrorIs(t, repo.Create(ctx, testutil.NewDevice(testutil.WithDeviceID("ab"))), device.ErrInvalidDeviceID)
	assert.ErrorIs(t, repo.Create(ctx, testutil.NewDevice(testutil.WithDeviceID("lobby/1"))), device.ErrInvalidDeviceID)
	assert.ErrorIs(t, repo.Create(ctx, testutil.NewDevice(testutil.WithName("  "))), device.ErrInvalidName)
}

func TestGetByDeviceID(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()
	created := testutil.CreateDevice(t, repo)

	found, err := repo.GetByDeviceID(ctx, "tablet-001")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	_, err = repo.GetByDeviceID(ctx, "ghost-999")
	assert.ErrorIs(t, err, device.ErrDeviceNotFound)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, device.ErrDeviceNotFound)
}

func TestList_Filter(t *testing.T) {
	repo, clk := newRepo(t)
	ctx := context.Background()

	testutil.OnlineDevice(t, repo, clk.Now(), testutil.WithDeviceID("kiosk-b"), testutil.WithName("Bravo"))
	testutil.CreateDevice(t, repo, testutil.WithDeviceID("kiosk-a"), testutil.WithName("Alpha"))

	all, err := repo.List(ctx, device.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Alpha", all[0].Name)

	online, err := repo.List(ctx, device.Filter{Status: device.StatusOnline})
	require.NoError(t, err)
	require.Len(t, online, 1)
	assert.Equal(t, "kiosk-b", online[0].DeviceID)

	search, err := repo.List(ctx, device.Filter{Search: "ALPH"})
	require.NoError(t, err)
	require.Len(t, search, 1)
	assert.Equal(t, "kiosk-a", search[0].DeviceID)

	none, err := repo.List(ctx, device.Filter{Status: device.StatusRebooting})
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.NotNil(t, none)
}

func TestUpdate_Patch(t *testing.T) {
	repo, clk := newRepo(t)
	ctx := context.Background()
	d := testutil.CreateDevice(t, repo)

	clk.Advance(time.Minute)
	name := "Reception Tablet"
	updated, err := repo.Update(ctx, d.ID, device.Patch{Name: &name, Tags: []string{"kiosk", "front"}})
	require.NoError(t, err)

	assert.Equal(t, "Reception Tablet", updated.Name)
	assert.Equal(t, []string{"kiosk", "front"}, updated.Tags)
	assert.Equal(t, "Lobby", updated.Location.Name, "location untouched")
	assert.Equal(t, "tablet-001", updated.DeviceID, "external id immutable")
	assert.True(t, updated.UpdatedAt.Equal(clk.Now()))

	_, err = repo.Update(ctx, "missing", device.Patch{Name: &name})
	assert.ErrorIs(t, err, device.ErrDeviceNotFound)

	empty := ""
	_, err = repo.Update(ctx, d.ID, device.Patch{Name: &empty})
	assert.ErrorIs(t, err, device.ErrInvalidName)
}

func TestDelete(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()
	d := testutil.CreateDevice(t, repo)

	require.NoError(t, repo.Delete(ctx, d.ID))
	_, err := repo.GetByID(ctx, d.ID)
	assert.ErrorIs(t, err, device.ErrDeviceNotFound)

	assert.ErrorIs(t, repo.Delete(ctx, d.ID), device.ErrDeviceNotFound)
}

func TestApplyStatusReport(t *testing.T) {
	repo, clk := newRepo(t)
	ctx := context.Background()
	d := testutil.CreateDevice(t, repo)
	at := clk.Now().Add(30 * time.Second)

	err := repo.ApplyStatusReport(ctx, d.ID, device.StatusReport{
		Status:          device.StatusOnline,
		IPAddress:       "10.0.0.5",
		FirmwareVersion: "2.1.0",
	}, at)
	require.NoError(t, err)

	stored, err := repo.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, device.StatusOnline, stored.Status)
	require.NotNil(t, stored.LastSeen)
	require.NotNil(t, stored.LastHeartbeat)
	assert.True(t, stored.LastSeen.Equal(at))
	assert.True(t, stored.LastHeartbeat.Equal(at))
	assert.Equal(t, "10.0.0.5", stored.IPAddress)
	assert.Equal(t, "2.1.0", stored.FirmwareVersion)

	// Absent attributes keep their stored values.
	require.NoError(t, repo.ApplyStatusReport(ctx, d.ID, device.StatusReport{Status: device.StatusError, Model: "T10"}, at.Add(time.Second)))
	stored, err = repo.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, device.StatusError, stored.Status)
	assert.Equal(t, "10.0.0.5", stored.IPAddress)
	assert.Equal(t, "T10", stored.Model)

	assert.ErrorIs(t, repo.ApplyStatusReport(ctx, d.ID, device.StatusReport{Status: "SLEEPING"}, at), device.ErrInvalidStatus)
	assert.ErrorIs(t, repo.ApplyStatusReport(ctx, "missing", device.StatusReport{Status: device.StatusOnline}, at), device.ErrDeviceNotFound)
}

func TestSetStatus(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()
	d := testutil.CreateDevice(t, repo)

	require.NoError(t, repo.SetStatus(ctx, d.ID, device.StatusRebooting))
	stored, err := repo.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, device.StatusRebooting, stored.Status)

	assert.ErrorIs(t, repo.SetStatus(ctx, "missing", device.StatusOnline), device.ErrDeviceNotFound)
}

func TestListStaleOnline(t *testing.T) {
	repo, clk := newRepo(t)
	ctx := context.Background()
	now := clk.Now()

	stale := testutil.OnlineDevice(t, repo, now.Add(-6*time.Minute), testutil.WithDeviceID("stale-01"))
	testutil.OnlineDevice(t, repo, now.Add(-1*time.Minute), testutil.WithDeviceID("fresh-01"))
	testutil.CreateDevice(t, repo, testutil.WithDeviceID("pending-01"))
	offline := testutil.OnlineDevice(t, repo, now.Add(-time.Hour), testutil.WithDeviceID("offline-01"))
	require.NoError(t, repo.SetStatus(ctx, offline.ID, device.StatusOffline))

	got, err := repo.ListStaleOnline(ctx, now.Add(-5*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, stale.ID, got[0].ID)
}

func TestListStaleOnline_ExactThresholdNotStale(t *testing.T) {
	repo, clk := newRepo(t)
	ctx := context.Background()
	threshold := clk.Now().Add(-5 * time.Minute)

	testutil.OnlineDevice(t, repo, threshold)

	got, err := repo.ListStaleOnline(ctx, threshold)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMarkOffline_Conditional(t *testing.T) {
	repo, clk := newRepo(t)
	ctx := context.Background()
	d := testutil.OnlineDevice(t, repo, clk.Now())
	threshold := clk.Now().Add(time.Second)

	changed, err := repo.MarkOffline(ctx, d.ID, threshold)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.MarkOffline(ctx, d.ID, threshold)
	require.NoError(t, err)
	assert.False(t, changed, "second transition must be a no-op")

	// A device that reported ERROR in the meantime keeps that status.
	other := testutil.OnlineDevice(t, repo, clk.Now(), testutil.WithDeviceID("tablet-002"))
	require.NoError(t, repo.ApplyStatusReport(ctx, other.ID, device.StatusReport{Status: device.StatusError}, clk.Now()))
	changed, err = repo.MarkOffline(ctx, other.ID, threshold)
	require.NoError(t, err)
	assert.False(t, changed)

	stored, err := repo.GetByID(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, device.StatusError, stored.Status)
}

func TestMarkOffline_FreshHeartbeatWins(t *testing.T) {
	repo, clk := newRepo(t)
	ctx := context.Background()

	// Listed as stale, then an ONLINE report arrives before the update.
	d := testutil.OnlineDevice(t, repo, clk.Now())
	threshold := clk.Now().Add(time.Second)
	clk.Advance(time.Minute)
	require.NoError(t, repo.ApplyStatusReport(ctx, d.ID, device.StatusReport{Status: device.StatusOnline}, clk.Now()))

	changed, err := repo.MarkOffline(ctx, d.ID, threshold)
	require.NoError(t, err)
	assert.False(t, changed)

	stored, err := repo.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, device.StatusOnline, stored.Status)
}
