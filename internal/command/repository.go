package command

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nerrad567/fleetwatch/internal/clock"
	"github.com/nerrad567/fleetwatch/internal/infrastructure/database"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Repository defines command persistence operations.
type Repository interface {
	// Create stores a new PENDING command, assigning its id.
	Create(ctx context.Context, cmd *Command) error

	GetByID(ctx context.Context, id string) (*Command, error)

	// ListByDevice returns a device's commands, newest first.
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]Command, error)

	// LatestCompleted returns the newest COMPLETED command with the given
	// name, or ErrCommandNotFound.
	LatestCompleted(ctx context.Context, deviceID, name string) (*Command, error)

	// Resolve moves a PENDING command to COMPLETED or FAILED. It returns
	// ErrAlreadyResolved when the command left PENDING earlier and
	// ErrCommandNotFound when the id is unknown.
	Resolve(ctx context.Context, id string, result Result) (*Command, error)
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

const commandSelect = `
	SELECT id, device_id, command, payload, status, response,
	       COALESCE(error_message, ''), COALESCE(issued_by, ''), created_at, completed_at
	FROM commands`

// Create inserts the command as PENDING.
func (r *SQLiteRepository) Create(ctx context.Context, cmd *Command) error {
	if cmd.DeviceID == "" {
		return ErrDeviceRequired
	}
	if cmd.Command == "" {
		return ErrInvalidCommand
	}

	payload, err := nullJSON(cmd.Payload)
	if err != nil {
		return fmt.Errorf("marshalling command payload: %w", err)
	}

	cmd.ID = uuid.NewString()
	cmd.Status = StatusPending
	cmd.Response = nil
	cmd.ErrorMessage = ""
	cmd.CompletedAt = nil
	cmd.CreatedAt = r.clock.Now()

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO commands (id, device_id, command, payload, status, issued_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cmd.ID, cmd.DeviceID, cmd.Command, payload, string(cmd.Status),
		sql.NullString{String: cmd.IssuedBy, Valid: cmd.IssuedBy != ""},
		database.FormatTime(cmd.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting command: %w", err)
	}
	return nil
}

// GetByID retrieves one command.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Command, error) {
	cmd, err := scanCommand(r.db.QueryRowContext(ctx, commandSelect+" WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCommandNotFound
		}
		return nil, fmt.Errorf("querying command: %w", err)
	}
	return cmd, nil
}

// ListByDevice returns recent commands for a device.
func (r *SQLiteRepository) ListByDevice(ctx context.Context, deviceID string, limit int) ([]Command, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	rows, err := r.db.QueryContext(ctx,
		commandSelect+" WHERE device_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?",
		deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying commands: %w", err)
	}
	defer rows.Close()

	commands := []Command{}
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning command: %w", err)
		}
		commands = append(commands, *cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating commands: %w", err)
	}
	return commands, nil
}

// LatestCompleted orders by completion time so a slow answer to an older
// request does not hide a newer one.
func (r *SQLiteRepository) LatestCompleted(ctx context.Context, deviceID, name string) (*Command, error) {
	cmd, err := scanCommand(r.db.QueryRowContext(ctx, commandSelect+`
		WHERE device_id = ? AND command = ? AND status = 'COMPLETED'
		ORDER BY completed_at DESC, rowid DESC
		LIMIT 1`,
		deviceID, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCommandNotFound
		}
		return nil, fmt.Errorf("querying latest command: %w", err)
	}
	return cmd, nil
}

// Resolve records the device's answer. The WHERE clause on status makes
// the transition happen at most once even when duplicate responses race.
func (r *SQLiteRepository) Resolve(ctx context.Context, id string, result Result) (*Command, error) {
	status := StatusFailed
	if result.Success {
		status = StatusCompleted
	}
	responseJSON := []byte(result.Response)
	if len(responseJSON) == 0 || string(responseJSON) == "null" {
		responseJSON = []byte("{}")
	}
	if !json.Valid(responseJSON) {
		return nil, fmt.Errorf("command response is not valid JSON")
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE commands
		 SET status = ?, response = ?, error_message = ?, completed_at = ?
		 WHERE id = ? AND status = 'PENDING'`,
		string(status), string(responseJSON),
		sql.NullString{String: result.Error, Valid: result.Error != ""},
		database.FormatTime(r.clock.Now()),
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("resolving command: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking rows affected: %w", err)
	}

	cmd, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return cmd, ErrAlreadyResolved
	}
	return cmd, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommand(scanner rowScanner) (*Command, error) {
	var cmd Command
	var status, createdAt string
	var payload, response, completedAt sql.NullString

	if err := scanner.Scan(
		&cmd.ID, &cmd.DeviceID, &cmd.Command, &payload, &status, &response,
		&cmd.ErrorMessage, &cmd.IssuedBy, &createdAt, &completedAt,
	); err != nil {
		return nil, err
	}

	cmd.Status = Status(status)
	if payload.Valid {
		if err := json.Unmarshal([]byte(payload.String), &cmd.Payload); err != nil {
			return nil, fmt.Errorf("unmarshalling command payload: %w", err)
		}
	}
	if response.Valid {
		cmd.Response = json.RawMessage(response.String)
	}

	var err error
	if cmd.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if cmd.CompletedAt, err = database.ParseNullTime(completedAt); err != nil {
		return nil, err
	}
	return &cmd, nil
}

func nullJSON(v map[string]any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

var _ Repository = (*SQLiteRepository)(nil)
