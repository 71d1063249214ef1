package alert

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nerrad567/fleetwatch/internal/clock"
	"github.com/nerrad567/fleetwatch/internal/infrastructure/database"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Repository defines alert persistence operations.
type Repository interface {
	Create(ctx context.Context, alert *Alert) error
	GetByID(ctx context.Context, id string) (*Alert, error)

	// List returns alerts newest first.
	List(ctx context.Context, filter Filter) ([]Alert, error)

	Acknowledge(ctx context.Context, id, by string) (*Alert, error)

	// BulkAcknowledge acknowledges every listed alert that exists and
	// returns how many rows changed.
	BulkAcknowledge(ctx context.Context, ids []string, by string) (int64, error)

	Delete(ctx context.Context, id string) error
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

const alertSelect = `
	SELECT a.id, COALESCE(a.device_id, ''), COALESCE(d.name, ''), a.alert_type, a.message,
	       a.severity, a.acknowledged, COALESCE(a.acknowledged_by, ''), a.acknowledged_at, a.created_at
	FROM alerts a
	LEFT JOIN devices d ON d.id = a.device_id`

// Create stores a new unacknowledged alert.
func (r *SQLiteRepository) Create(ctx context.Context, a *Alert) error {
	if a.AlertType == "" || a.Message == "" {
		return ErrInvalidAlert
	}
	sev, ok := ParseSeverity(string(a.Severity))
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidSeverity, a.Severity)
	}

	a.ID = uuid.NewString()
	a.Severity = sev
	a.Acknowledged = false
	a.AcknowledgedBy = ""
	a.AcknowledgedAt = nil
	a.CreatedAt = r.clock.Now()

	var deviceID sql.NullString
	if a.DeviceID != "" {
		deviceID = sql.NullString{String: a.DeviceID, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO alerts (id, device_id, alert_type, message, severity, acknowledged, created_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?)`,
		a.ID, deviceID, a.AlertType, a.Message, string(a.Severity), database.FormatTime(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting alert: %w", err)
	}
	return nil
}

// GetByID retrieves one alert.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Alert, error) {
	a, err := scanAlert(r.db.QueryRowContext(ctx, alertSelect+" WHERE a.id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("querying alert: %w", err)
	}
	return a, nil
}

// List returns alerts matching filter.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) ([]Alert, error) {
	var where []string
	var args []any

	if filter.Acknowledged != nil {
		where = append(where, "a.acknowledged = ?")
		args = append(args, *filter.Acknowledged)
	}
	if filter.Severity != "" {
		where = append(where, "a.severity = ?")
		args = append(args, string(filter.Severity))
	}
	if filter.DeviceID != "" {
		where = append(where, "a.device_id = ?")
		args = append(args, filter.DeviceID)
	}

	query := alertSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY a.created_at DESC, a.rowid DESC LIMIT ?"

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying alerts: %w", err)
	}
	defer rows.Close()

	alerts := []Alert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		alerts = append(alerts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating alerts: %w", err)
	}
	return alerts, nil
}

// Acknowledge marks an alert as handled by the given user. Acknowledging
// twice overwrites who and when.
func (r *SQLiteRepository) Acknowledge(ctx context.Context, id, by string) (*Alert, error) {
	result, err := r.db.ExecContext(ctx,
		"UPDATE alerts SET acknowledged = 1, acknowledged_by = ?, acknowledged_at = ? WHERE id = ?",
		nullString(by), database.FormatTime(r.clock.Now()), id)
	if err != nil {
		return nil, fmt.Errorf("acknowledging alert: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return nil, ErrAlertNotFound
	}
	return r.GetByID(ctx, id)
}

// BulkAcknowledge acknowledges several alerts in one statement.
func (r *SQLiteRepository) BulkAcknowledge(ctx context.Context, ids []string, by string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+2)
	args = append(args, nullString(by), database.FormatTime(r.clock.Now()))
	for _, id := range ids {
		args = append(args, id)
	}

	result, err := r.db.ExecContext(ctx,
		"UPDATE alerts SET acknowledged = 1, acknowledged_by = ?, acknowledged_at = ? WHERE id IN ("+placeholders+")",
		args...)
	if err != nil {
		return 0, fmt.Errorf("acknowledging alerts: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// Delete removes an alert.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM alerts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting alert: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrAlertNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(scanner rowScanner) (*Alert, error) {
	var a Alert
	var severity, createdAt string
	var ackAt sql.NullString

	if err := scanner.Scan(
		&a.ID, &a.DeviceID, &a.DeviceName, &a.AlertType, &a.Message,
		&severity, &a.Acknowledged, &a.AcknowledgedBy, &ackAt, &createdAt,
	); err != nil {
		return nil, err
	}

	a.Severity = Severity(severity)
	var err error
	if a.AcknowledgedAt, err = database.ParseNullTime(ackAt); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Repository = (*SQLiteRepository)(nil)
