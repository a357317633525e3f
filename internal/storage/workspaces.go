package storage

import (
	"github.com/mpataki/deck/internal/models"
)

func (s *Storage) CreateWorkspace(ws *models.Workspace) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO workspaces (name, description) VALUES (?, ?)`,
		ws.Name, ws.Description,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

const workspaceColumns = `id, name, description, created_at, updated_at`

func scanWorkspace(row interface{ Scan(...any) error }) (*models.Workspace, error) {
	var ws models.Workspace
	if err := row.Scan(&ws.ID, &ws.Name, &ws.Description, &ws.CreatedAt, &ws.UpdatedAt); err != nil {
		return nil, err
	}
	return &ws, nil
}

func (s *Storage) GetWorkspace(id int64) (*models.Workspace, error) {
	ws, err := scanWorkspace(s.db.QueryRow(`SELECT `+workspaceColumns+` FROM workspaces WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "workspace", id)
	}
	return ws, nil
}

func (s *Storage) GetWorkspaceByName(name string) (*models.Workspace, error) {
	ws, err := scanWorkspace(s.db.QueryRow(`SELECT `+workspaceColumns+` FROM workspaces WHERE name = ?`, name))
	if err != nil {
		return nil, notFound(err, "workspace", name)
	}
	return ws, nil
}

func (s *Storage) ListWorkspaces() ([]*models.Workspace, error) {
	rows, err := s.db.Query(`SELECT ` + workspaceColumns + ` FROM workspaces ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Workspace
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

func (s *Storage) UpdateWorkspace(ws *models.Workspace) error {
	result, err := s.db.Exec(
		`UPDATE workspaces SET name = ?, description = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		ws.Name, ws.Description, ws.ID,
	)
	if err != nil {
		return err
	}
	return checkAffected(result, "workspace", ws.ID)
}

// DeleteWorkspace removes the workspace with its actions, variables, runs and
// journaled running actions.
func (s *Storage) DeleteWorkspace(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM runs WHERE workspace_id = ?`,
		`DELETE FROM running_actions WHERE workspace_id = ?`,
		`DELETE FROM variables WHERE workspace_id = ?`,
		`DELETE FROM actions WHERE workspace_id = ?`,
	} {
		if _, err := tx.Exec(q, id); err != nil {
			return err
		}
	}

	result, err := tx.Exec(`DELETE FROM workspaces WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := checkAffected(result, "workspace", id); err != nil {
		return err
	}
	return tx.Commit()
}
