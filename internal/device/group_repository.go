package device

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

// GroupRepository defines persistence operations for device groups.
type GroupRepository interface {
	// Create inserts a new group. ErrUnknownParent when ParentID names no group.
	Create(ctx context.Context, group *Group) error

	// GetByID retrieves a group with its device and child counts.
	GetByID(ctx context.Context, id string) (*Group, error)

	// List returns every group ordered by name.
	List(ctx context.Context) ([]Group, error)

	// Children returns the direct children of a group ordered by name.
	Children(ctx context.Context, id string) ([]Group, error)

	// Update applies a patch. Moving a group under itself or one of its
	// descendants fails with ErrGroupCycle.
	Update(ctx context.Context, id string, patch GroupPatch) (*Group, error)

	// Delete removes a group. Child groups and member devices are detached,
	// not deleted.
	Delete(ctx context.Context, id string) error
}

// SQLiteGroupRepository implements GroupRepository using SQLite.
type SQLiteGroupRepository struct {
	db    *sql.DB
	clock clock.Clock
}

// NewSQLiteGroupRepository creates a group repository over an open,
// migrated database.
func NewSQLiteGroupRepository(db *sql.DB, clk clock.Clock) *SQLiteGroupRepository {
	if clk == nil {
		clk = clock.Real{}
	}
	return &SQLiteGroupRepository{db: db, clock: clk}
}

const groupSelect = `
	SELECT g.id, g.name, g.description, g.parent_id,
	       (SELECT COUNT(*) FROM devices d WHERE d.group_id = g.id),
	       (SELECT COUNT(*) FROM device_groups c WHERE c.parent_id = g.id),
	       g.created_at, g.updated_at
	FROM device_groups g`

// Create inserts a new group. ID is generated when empty.
func (r *SQLiteGroupRepository) Create(ctx context.Context, group *Group) error {
	if group == nil {
		return fmt.Errorf("group is required")
	}
	if err := ValidateGroupName(group.Name); err != nil {
		return err
	}
	if group.ParentID != "" {
		if err := r.requireParent(ctx, group.ParentID); err != nil {
			return err
		}
	}

	if group.ID == "" {
		group.ID = uuid.NewString()
	}
	now := r.clock.Now()
	group.CreatedAt = now
	group.UpdatedAt = now
	group.DeviceCount = 0
	group.ChildCount = 0

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO device_groups (id, name, description, parent_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		group.ID,
		group.Name,
		group.Description,
		nullString(group.ParentID),
		database.FormatTime(now),
		database.FormatTime(now),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return ErrUnknownParent
		}
		return fmt.Errorf("inserting device group: %w", err)
	}
	return nil
}

// GetByID retrieves a group by ID.
func (r *SQLiteGroupRepository) GetByID(ctx context.Context, id string) (*Group, error) {
	row := r.db.QueryRowContext(ctx, groupSelect+` WHERE g.id = ?`, id)
	g, err := scanGroup(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("querying device group: %w", err)
	}
	return g, nil
}

func (r *SQLiteGroupRepository) List(ctx context.Context) ([]Group, error) {
	return r.queryGroups(ctx, groupSelect+` ORDER BY g.name, g.id`)
}

// Children returns ErrGroupNotFound when the parent itself is missing.
func (r *SQLiteGroupRepository) Children(ctx context.Context, id string) ([]Group, error) {
	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return r.queryGroups(ctx, groupSelect+` WHERE g.parent_id = ? ORDER BY g.name, g.id`, id)
}

// Update applies a group patch.
func (r *SQLiteGroupRepository) Update(ctx context.Context, id string, patch GroupPatch) (*Group, error) {
	if patch.Name != nil {
		if err := ValidateGroupName(*patch.Name); err != nil {
			return nil, err
		}
	}
	if _, err := r.GetByID(ctx, id); err != nil {
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
	if patch.ParentID.Set {
		if !patch.ParentID.Null() {
			if err := r.requireParent(ctx, patch.ParentID.Value); err != nil {
				return nil, err
			}
			cycle, err := r.isAncestorOrSelf(ctx, id, patch.ParentID.Value)
			if err != nil {
				return nil, err
			}
			if cycle {
				return nil, ErrGroupCycle
			}
		}
		sets = append(sets, "parent_id = ?")
		args = append(args, nullString(patch.ParentID.Value))
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, database.FormatTime(r.clock.Now()), id)

	result, err := r.db.ExecContext(ctx,
		"UPDATE device_groups SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		if isForeignKeyError(err) {
			return nil, ErrUnknownParent
		}
		return nil, fmt.Errorf("updating device group: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return nil, fmt.Errorf("checking rows affected: %w", err)
	} else if n == 0 {
		return nil, ErrGroupNotFound
	}

	return r.GetByID(ctx, id)
}

// Delete removes a group (ON DELETE SET NULL detaches children and devices).
func (r *SQLiteGroupRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM device_groups WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device group: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrGroupNotFound
	}
	return nil
}

func (r *SQLiteGroupRepository) requireParent(ctx context.Context, parentID string) error {
	var exists int
	err := r.db.QueryRowContext(ctx,
		"SELECT 1 FROM device_groups WHERE id = ?", parentID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrUnknownParent
	}
	if err != nil {
		return fmt.Errorf("checking parent group: %w", err)
	}
	return nil
}

// isAncestorOrSelf reports whether id is parentID or one of its ancestors.
func (r *SQLiteGroupRepository) isAncestorOrSelf(ctx context.Context, id, parentID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		WITH RECURSIVE ancestors(id) AS (
			SELECT ?
			UNION
			SELECT g.parent_id
			FROM device_groups g
			JOIN ancestors a ON g.id = a.id
			WHERE g.parent_id IS NOT NULL
		)
		SELECT COUNT(*) FROM ancestors WHERE id = ?`,
		parentID, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("walking group ancestors: %w", err)
	}
	return n > 0, nil
}

func (r *SQLiteGroupRepository) queryGroups(ctx context.Context, query string, args ...any) ([]Group, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying device groups: %w", err)
	}
	defer rows.Close()

	groups := []Group{}
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device group: %w", err)
		}
		groups = append(groups, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device groups: %w", err)
	}
	return groups, nil
}

func scanGroup(scanner rowScanner) (*Group, error) {
	var g Group
	var parentID sql.NullString
	var createdAt, updatedAt string

	if err := scanner.Scan(
		&g.ID,
		&g.Name,
		&g.Description,
		&parentID,
		&g.DeviceCount,
		&g.ChildCount,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	g.ParentID = parentID.String

	var err error
	if g.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if g.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	return &g, nil
}
