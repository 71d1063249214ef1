package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/fleetwatch/internal/clock"
	"github.com/nerrad567/fleetwatch/internal/infrastructure/database"
)

// Repository defines device persistence operations.
type Repository interface {
	// Create registers a new device with status PENDING.
	// Returns ErrDeviceExists if the external id is taken.
	Create(ctx context.Context, device *Device) error

	// GetByID retrieves a device by its internal id.
	GetByID(ctx context.Context, id string) (*Device, error)

	// GetByDeviceID retrieves a device by the id it uses on the wire.
	GetByDeviceID(ctx context.Context, deviceID string) (*Device, error)

	List(ctx context.Context, filter Filter) ([]Device, error)

	// Update applies an operator patch and returns the updated device.
	Update(ctx context.Context, id string, patch Patch) (*Device, error)

	Delete(ctx context.Context, id string) error

	// ApplyStatusReport records a status message in a single statement:
	// status, last seen, last heartbeat and any reported attributes.
	ApplyStatusReport(ctx context.Context, id string, report StatusReport, at time.Time) error

	// SetStatus changes only the status (used for REBOOTING).
	SetStatus(ctx context.Context, id string, status Status) error

	// ListStaleOnline returns ONLINE devices whose last heartbeat (or,
	// when none was recorded, last seen) is strictly before threshold.
	ListStaleOnline(ctx context.Context, threshold time.Time) ([]Device, error)

	// MarkOffline moves a device from ONLINE to OFFLINE if it is still
	// silent since before threshold. It reports false when the device
	// changed status or reported in after it was listed.
	MarkOffline(ctx context.Context, id string, threshold time.Time) (bool, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db    *sql.DB
	clock clock.Clock
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB, clk clock.Clock) *SQLiteRepository {
	if clk == nil {
		clk = clock.Real{}
	}
	return &SQLiteRepository{db: db, clock: clk}
}

const deviceColumns = `
	id, device_id, name, description, status, last_seen, last_heartbeat,
	ip_address, firmware_version, model,
	location_name, location_floor, location_building, tags, group_id,
	created_at, updated_at`

// Create registers a new device. ID is generated when empty; status is
// always PENDING regardless of the value passed in. A GroupID that names
// no group yields ErrUnknownGroup.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	if err := ValidateDevice(device); err != nil {
		return err
	}

	if device.ID == "" {
		device.ID = uuid.NewString()
	}
	if device.Tags == nil {
		device.Tags = []string{}
	}
	now := r.clock.Now()
	device.Status = StatusPending
	device.LastSeen = nil
	device.LastHeartbeat = nil
	device.CreatedAt = now
	device.UpdatedAt = now

	tagsJSON, err := json.Marshal(device.Tags)
	if err != nil {
		return fmt.Errorf("marshalling tags: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO devices (`+deviceColumns+`)
		VALUES (?, ?, ?, ?, ?, NULL, NULL, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		device.ID,
		device.DeviceID,
		device.Name,
		device.Description,
		string(device.Status),
		device.IPAddress,
		device.FirmwareVersion,
		device.Model,
		device.Location.Name,
		device.Location.Floor,
		device.Location.Building,
		string(tagsJSON),
		nullString(device.GroupID),
		database.FormatTime(now),
		database.FormatTime(now),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		if isForeignKeyError(err) {
			return ErrUnknownGroup
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// GetByID retrieves a device by its internal id.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return d, nil
}

// GetByDeviceID retrieves a device by its external id.
func (r *SQLiteRepository) GetByDeviceID(ctx context.Context, deviceID string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE device_id = ?`, deviceID)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by device id: %w", err)
	}
	return d, nil
}

// List returns devices ordered by name.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) ([]Device, error) {
	var where []string
	var args []any

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		pattern := "%" + strings.ToLower(s) + "%"
		where = append(where, "(LOWER(name) LIKE ? OR LOWER(device_id) LIKE ? OR LOWER(location_name) LIKE ?)")
		args = append(args, pattern, pattern, pattern)
	}
	if filter.GroupID != "" {
		where = append(where, "group_id = ?")
		args = append(args, filter.GroupID)
	}

	query := `SELECT ` + deviceColumns + ` FROM devices`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY name, device_id"

	return r.queryDevices(ctx, query, args...)
}

// Update applies an operator patch.
func (r *SQLiteRepository) Update(ctx context.Context, id string, patch Patch) (*Device, error) {
	if err := ValidatePatch(patch); err != nil {
		return nil, err
	}

	var sets []string
	var args []any

	if patch.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *patch.Name)
	}
	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *patch.Description)
	}
	if patch.Location != nil {
		sets = append(sets, "location_name = ?", "location_floor = ?", "location_building = ?")
		args = append(args, patch.Location.Name, patch.Location.Floor, patch.Location.Building)
	}
	if patch.Tags != nil {
		tagsJSON, err := json.Marshal(patch.Tags)
		if err != nil {
			return nil, fmt.Errorf("marshalling tags: %w", err)
		}
		sets = append(sets, "tags = ?")
		args = append(args, string(tagsJSON))
	}
	if patch.GroupID.Set {
		sets = append(sets, "group_id = ?")
		args = append(args, nullString(patch.GroupID.Value))
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, database.FormatTime(r.clock.Now()), id)

	result, err := r.db.ExecContext(ctx,
		"UPDATE devices SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		if isForeignKeyError(err) {
			return nil, ErrUnknownGroup
		}
		return nil, fmt.Errorf("updating device: %w", err)
	}
	if err := requireRow(result); err != nil {
		return nil, err
	}

	return r.GetByID(ctx, id)
}

// Delete removes a device. Its samples, logs, events, alerts and
// commands go with it (ON DELETE CASCADE).
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireRow(result)
}

// ApplyStatusReport records a status message. Last-writer-wins: there is
// no version check, each report overwrites the previous one.
func (r *SQLiteRepository) ApplyStatusReport(ctx context.Context, id string, report StatusReport, at time.Time) error {
	if err := ValidateStatus(report.Status); err != nil {
		return err
	}

	ts := database.FormatTime(at)
	result, err := r.db.ExecContext(ctx, `
		UPDATE devices SET
			status           = ?,
			last_seen        = ?,
			last_heartbeat   = ?,
			ip_address       = COALESCE(NULLIF(?, ''), ip_address),
			firmware_version = COALESCE(NULLIF(?, ''), firmware_version),
			model            = COALESCE(NULLIF(?, ''), model),
			updated_at       = ?
		WHERE id = ?`,
		string(report.Status), ts, ts,
		report.IPAddress, report.FirmwareVersion, report.Model,
		database.FormatTime(r.clock.Now()),
		id,
	)
	if err != nil {
		return fmt.Errorf("applying status report: %w", err)
	}
	return requireRow(result)
}

// SetStatus changes only the status.
func (r *SQLiteRepository) SetStatus(ctx context.Context, id string, status Status) error {
	if err := ValidateStatus(status); err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx,
		"UPDATE devices SET status = ?, updated_at = ? WHERE id = ?",
		string(status), database.FormatTime(r.clock.Now()), id)
	if err != nil {
		return fmt.Errorf("setting device status: %w", err)
	}
	return requireRow(result)
}

// ListStaleOnline returns ONLINE devices silent since before threshold.
func (r *SQLiteRepository) ListStaleOnline(ctx context.Context, threshold time.Time) ([]Device, error) {
	cutoff := database.FormatTime(threshold)
	return r.queryDevices(ctx, `
		SELECT `+deviceColumns+`
		FROM devices
		WHERE status = 'ONLINE'
		  AND (last_heartbeat < ? OR (last_heartbeat IS NULL AND last_seen < ?))
		ORDER BY name, device_id`,
		cutoff, cutoff)
}

// MarkOffline performs the conditional ONLINE to OFFLINE transition. The
// staleness test is repeated in the UPDATE so a heartbeat that lands
// between listing and marking wins.
func (r *SQLiteRepository) MarkOffline(ctx context.Context, id string, threshold time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE devices SET status = 'OFFLINE', updated_at = ?
		WHERE id = ?
		  AND status = 'ONLINE'
		  AND COALESCE(last_heartbeat, last_seen) < ?`,
		database.FormatTime(r.clock.Now()), id, database.FormatTime(threshold))
	if err != nil {
		return false, fmt.Errorf("marking device offline: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n == 1, nil
}

func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	devices := []Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// rowScanner is implemented by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(scanner rowScanner) (*Device, error) {
	var d Device
	var status, tagsJSON, createdAt, updatedAt string
	var lastSeen, lastHeartbeat, groupID sql.NullString

	err := scanner.Scan(
		&d.ID,
		&d.DeviceID,
		&d.Name,
		&d.Description,
		&status,
		&lastSeen,
		&lastHeartbeat,
		&d.IPAddress,
		&d.FirmwareVersion,
		&d.Model,
		&d.Location.Name,
		&d.Location.Floor,
		&d.Location.Building,
		&tagsJSON,
		&groupID,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Status = Status(status)
	d.GroupID = groupID.String

	if d.LastSeen, err = database.ParseNullTime(lastSeen); err != nil {
		return nil, err
	}
	if d.LastHeartbeat, err = database.ParseNullTime(lastHeartbeat); err != nil {
		return nil, err
	}
	if d.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(tagsJSON), &d.Tags); err != nil {
		return nil, fmt.Errorf("unmarshalling tags: %w", err)
	}
	if d.Tags == nil {
		d.Tags = []string{}
	}

	return &d, nil
}

// requireRow maps "no rows affected" to ErrDeviceNotFound.
func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
