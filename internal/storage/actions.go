package storage

import (
	"database/sql"

	"github.com/mpataki/deck/internal/models"
)

const actionColumns = `id, workspace_id, name, action_type, config, dependencies, timeout_seconds,
	detached, track_process, os_overrides, order_index, created_at, updated_at`

func (s *Storage) CreateAction(a *models.Action) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO actions (workspace_id, name, action_type, config, dependencies, timeout_seconds,
			detached, track_process, os_overrides, order_index)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.WorkspaceID, a.Name, a.ActionType, a.Config, a.Dependencies, a.TimeoutSeconds,
		boolToInt(a.Detached), boolToInt(a.TrackProcess), a.OSOverrides, a.OrderIndex,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func scanAction(row interface{ Scan(...any) error }) (*models.Action, error) {
	var a models.Action
	var deps, overrides sql.NullString
	var timeout sql.NullInt64

	err := row.Scan(
		&a.ID, &a.WorkspaceID, &a.Name, &a.ActionType, &a.Config, &deps, &timeout,
		&a.Detached, &a.TrackProcess, &overrides, &a.OrderIndex, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Dependencies = nullString(deps)
	a.OSOverrides = nullString(overrides)
	a.TimeoutSeconds = nullInt(timeout)
	return &a, nil
}

func (s *Storage) GetAction(id int64) (*models.Action, error) {
	a, err := scanAction(s.db.QueryRow(`SELECT `+actionColumns+` FROM actions WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "action", id)
	}
	return a, nil
}

func (s *Storage) GetActionByName(workspaceID int64, name string) (*models.Action, error) {
	a, err := scanAction(s.db.QueryRow(
		`SELECT `+actionColumns+` FROM actions WHERE workspace_id = ? AND name = ?`, workspaceID, name,
	))
	if err != nil {
		return nil, notFound(err, "action", name)
	}
	return a, nil
}

// ListActions returns a workspace's actions in insertion order. Callers sort
// by order_index themselves so that ties keep this order.
func (s *Storage) ListActions(workspaceID int64) ([]*models.Action, error) {
	rows, err := s.db.Query(`SELECT `+actionColumns+` FROM actions WHERE workspace_id = ? ORDER BY id`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Storage) UpdateAction(a *models.Action) error {
	result, err := s.db.Exec(
		`UPDATE actions SET name = ?, action_type = ?, config = ?, dependencies = ?, timeout_seconds = ?,
			detached = ?, track_process = ?, os_overrides = ?, order_index = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		a.Name, a.ActionType, a.Config, a.Dependencies, a.TimeoutSeconds,
		boolToInt(a.Detached), boolToInt(a.TrackProcess), a.OSOverrides, a.OrderIndex, a.ID,
	)
	if err != nil {
		return err
	}
	return checkAffected(result, "action", a.ID)
}

func (s *Storage) DeleteAction(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM runs WHERE action_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM running_actions WHERE action_id = ?`, id); err != nil {
		return err
	}
	result, err := tx.Exec(`DELETE FROM actions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := checkAffected(result, "action", id); err != nil {
		return err
	}
	return tx.Commit()
}
