package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/fleetwatch/internal/clock"
	"github.com/nerrad567/fleetwatch/internal/infrastructure/database"
)

const (
	DefaultLogLimit   = 100
	DefaultEventLimit = 50
	maxListLimit      = 1000
)

// Repository defines telemetry persistence operations. All device ids
// are internal ids.
type Repository interface {
	AppendMetric(ctx context.Context, sample *MetricSample) error
	AppendLog(ctx context.Context, entry *LogEntry) error
	AppendEvent(ctx context.Context, event *DeviceEvent) error

	// ListMetrics returns samples recorded at or after since, oldest first.
	ListMetrics(ctx context.Context, deviceID string, since time.Time) ([]MetricSample, error)

	// ListLogs returns the newest log entries first.
	ListLogs(ctx context.Context, deviceID string, filter LogFilter) ([]LogEntry, error)

	// ListEvents returns the newest events first.
	ListEvents(ctx context.Context, deviceID string, filter EventFilter) ([]DeviceEvent, error)

	// PruneMetrics deletes samples recorded strictly before cutoff and
	// returns how many were removed.
	PruneMetrics(ctx context.Context, cutoff time.Time) (int64, error)
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

const metricColumns = `
	device_id, recorded_at, cpu_usage, memory_usage, memory_total, memory_available,
	storage_usage, storage_total, storage_available, cpu_temperature, network_type,
	signal_strength, display_on, brightness, battery_level, battery_charging`

// AppendMetric stores a sample. A zero RecordedAt is stamped with the
// current time.
func (r *SQLiteRepository) AppendMetric(ctx context.Context, s *MetricSample) error {
	if s.DeviceID == "" {
		return ErrDeviceRequired
	}
	if s.RecordedAt.IsZero() {
		s.RecordedAt = r.clock.Now()
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO metric_samples (`+metricColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.DeviceID,
		database.FormatTime(s.RecordedAt),
		s.CPUUsage,
		s.MemoryUsage,
		s.MemoryTotal,
		s.MemoryAvailable,
		s.StorageUsage,
		s.StorageTotal,
		s.StorageAvailable,
		s.CPUTemperature,
		s.NetworkType,
		s.SignalStrength,
		s.DisplayOn,
		s.Brightness,
		s.BatteryLevel,
		s.BatteryCharging,
	)
	if err != nil {
		return fmt.Errorf("inserting metric sample: %w", err)
	}

	if s.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("reading metric sample id: %w", err)
	}
	return nil
}

// AppendLog stores a log entry, defaulting the level to INFO.
func (r *SQLiteRepository) AppendLog(ctx context.Context, e *LogEntry) error {
	if e.DeviceID == "" {
		return ErrDeviceRequired
	}
	if e.Level == "" {
		e.Level = DefaultLogLevel
	}
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.clock.Now()
	}

	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshalling log metadata: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO device_logs (device_id, level, message, source, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.DeviceID, e.Level, e.Message, e.Source, string(metadata), database.FormatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting log entry: %w", err)
	}

	if e.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("reading log entry id: %w", err)
	}
	return nil
}

// AppendEvent stores a device event, defaulting severity to INFO.
func (r *SQLiteRepository) AppendEvent(ctx context.Context, ev *DeviceEvent) error {
	if ev.DeviceID == "" {
		return ErrDeviceRequired
	}
	if ev.Severity == "" {
		ev.Severity = DefaultEventSeverity
	}
	if ev.EventData == nil {
		ev.EventData = map[string]any{}
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.clock.Now()
	}

	data, err := json.Marshal(ev.EventData)
	if err != nil {
		return fmt.Errorf("marshalling event data: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO device_events (device_id, event_type, severity, event_data, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ev.DeviceID, ev.EventType, ev.Severity, string(data), database.FormatTime(ev.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting device event: %w", err)
	}

	if ev.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("reading device event id: %w", err)
	}
	return nil
}

// ListMetrics returns a device's samples since the given instant.
func (r *SQLiteRepository) ListMetrics(ctx context.Context, deviceID string, since time.Time) ([]MetricSample, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, `+metricColumns+`
		FROM metric_samples
		WHERE device_id = ? AND recorded_at >= ?
		ORDER BY recorded_at ASC, id ASC`,
		deviceID, database.FormatTime(since),
	)
	if err != nil {
		return nil, fmt.Errorf("querying metric samples: %w", err)
	}
	defer rows.Close()

	samples := []MetricSample{}
	for rows.Next() {
		var s MetricSample
		var recordedAt string
		// Pointer-to-pointer destinations stay nil for NULL columns.
		if err := rows.Scan(
			&s.ID, &s.DeviceID, &recordedAt,
			&s.CPUUsage, &s.MemoryUsage, &s.MemoryTotal, &s.MemoryAvailable,
			&s.StorageUsage, &s.StorageTotal, &s.StorageAvailable, &s.CPUTemperature,
			&s.NetworkType, &s.SignalStrength, &s.DisplayOn, &s.Brightness,
			&s.BatteryLevel, &s.BatteryCharging,
		); err != nil {
			return nil, fmt.Errorf("scanning metric sample: %w", err)
		}
		if s.RecordedAt, err = database.ParseTime(recordedAt); err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating metric samples: %w", err)
	}
	return samples, nil
}

// ListLogs returns a device's log entries, optionally for one level.
func (r *SQLiteRepository) ListLogs(ctx context.Context, deviceID string, filter LogFilter) ([]LogEntry, error) {
	query := `SELECT id, device_id, level, message, source, metadata, created_at
		FROM device_logs WHERE device_id = ?`
	args := []any{deviceID}
	if filter.Level != "" {
		query += " AND level = ?"
		args = append(args, strings.ToUpper(filter.Level))
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, clampLimit(filter.Limit, DefaultLogLimit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying device logs: %w", err)
	}
	defer rows.Close()

	entries := []LogEntry{}
	for rows.Next() {
		var e LogEntry
		var metadata, createdAt string
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.Level, &e.Message, &e.Source, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning device log: %w", err)
		}
		if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshalling log metadata: %w", err)
		}
		if e.CreatedAt, err = database.ParseTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device logs: %w", err)
	}
	return entries, nil
}

// ListEvents returns a device's events, optionally for one event type.
func (r *SQLiteRepository) ListEvents(ctx context.Context, deviceID string, filter EventFilter) ([]DeviceEvent, error) {
	query := `SELECT id, device_id, event_type, severity, event_data, created_at
		FROM device_events WHERE device_id = ?`
	args := []any{deviceID}
	if filter.EventType != "" {
		query += " AND event_type = ?"
		args = append(args, filter.EventType)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, clampLimit(filter.Limit, DefaultEventLimit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying device events: %w", err)
	}
	defer rows.Close()

	events := []DeviceEvent{}
	for rows.Next() {
		var ev DeviceEvent
		var data, createdAt string
		if err := rows.Scan(&ev.ID, &ev.DeviceID, &ev.EventType, &ev.Severity, &data, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning device event: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &ev.EventData); err != nil {
			return nil, fmt.Errorf("unmarshalling event data: %w", err)
		}
		if ev.CreatedAt, err = database.ParseTime(createdAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device events: %w", err)
	}
	return events, nil
}

// PruneMetrics deletes samples older than cutoff.
func (r *SQLiteRepository) PruneMetrics(ctx context.Context, cutoff time.Time) (int64, error) {
	if cutoff.IsZero() {
		return 0, ErrInvalidCutoff
	}

	result, err := r.db.ExecContext(ctx,
		"DELETE FROM metric_samples WHERE recorded_at < ?",
		database.FormatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting metric samples: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
