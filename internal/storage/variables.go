package storage

import (
	"database/sql"
	"errors"

	"github.com/mpataki/deck/internal/models"
)

const variableColumns = `id, workspace_id, key, value, is_secure, enabled, created_at, updated_at`

// SetVariable inserts the variable or replaces the value and flags of the one
// with the same scope and key.
func (s *Storage) SetVariable(v *models.Variable) (int64, error) {
	existing, err := s.getVariable(v.WorkspaceID, v.Key)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	if existing != nil {
		_, err := s.db.Exec(
			`UPDATE variables SET value = ?, is_secure = ?, enabled = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			v.Value, boolToInt(v.IsSecure), boolToInt(v.Enabled), existing.ID,
		)
		return existing.ID, err
	}

	result, err := s.db.Exec(
		`INSERT INTO variables (workspace_id, key, value, is_secure, enabled) VALUES (?, ?, ?, ?, ?)`,
		v.WorkspaceID, v.Key, v.Value, boolToInt(v.IsSecure), boolToInt(v.Enabled),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Storage) getVariable(workspaceID *int64, key string) (*models.Variable, error) {
	var row *sql.Row
	if workspaceID == nil {
		row = s.db.QueryRow(`SELECT `+variableColumns+` FROM variables WHERE workspace_id IS NULL AND key = ?`, key)
	} else {
		row = s.db.QueryRow(`SELECT `+variableColumns+` FROM variables WHERE workspace_id = ? AND key = ?`, *workspaceID, key)
	}
	return scanVariable(row)
}

func scanVariable(row interface{ Scan(...any) error }) (*models.Variable, error) {
	var v models.Variable
	var wsID sql.NullInt64
	if err := row.Scan(&v.ID, &wsID, &v.Key, &v.Value, &v.IsSecure, &v.Enabled, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	if wsID.Valid {
		v.WorkspaceID = &wsID.Int64
	}
	return &v, nil
}

func (s *Storage) queryVariables(query string, args ...any) ([]*models.Variable, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Variable
	for rows.Next() {
		v, err := scanVariable(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Storage) ListVariables(workspaceID int64) ([]*models.Variable, error) {
	return s.queryVariables(`SELECT `+variableColumns+` FROM variables WHERE workspace_id = ? ORDER BY key`, workspaceID)
}

func (s *Storage) ListGlobalVariables() ([]*models.Variable, error) {
	return s.queryVariables(`SELECT ` + variableColumns + ` FROM variables WHERE workspace_id IS NULL ORDER BY key`)
}

func (s *Storage) DeleteVariable(workspaceID *int64, key string) error {
	var (
		result sql.Result
		err    error
	)
	if workspaceID == nil {
		result, err = s.db.Exec(`DELETE FROM variables WHERE workspace_id IS NULL AND key = ?`, key)
	} else {
		result, err = s.db.Exec(`DELETE FROM variables WHERE workspace_id = ? AND key = ?`, *workspaceID, key)
	}
	if err != nil {
		return err
	}
	return checkAffected(result, "variable", key)
}
