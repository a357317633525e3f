package storage

import "github.com/mpataki/deck/internal/models"

const toolColumns = `id, name, description, enabled, tool_type, template, placeholders, category, created_at, updated_at`

func (s *Storage) CreateTool(t *models.Tool) (int64, error) {
	placeholders := t.Placeholders
	if placeholders == "" {
		placeholders = "[]"
	}
	result, err := s.db.Exec(
		`INSERT INTO tools (name, description, enabled, tool_type, template, placeholders, category)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.Name, t.Description, boolToInt(t.Enabled), t.ToolType, t.Template, placeholders, t.Category,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func scanTool(row interface{ Scan(...any) error }) (*models.Tool, error) {
	var t models.Tool
	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.Enabled, &t.ToolType, &t.Template,
		&t.Placeholders, &t.Category, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Storage) GetTool(id int64) (*models.Tool, error) {
	t, err := scanTool(s.db.QueryRow(`SELECT `+toolColumns+` FROM tools WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "tool", id)
	}
	return t, nil
}

func (s *Storage) GetToolByName(name string) (*models.Tool, error) {
	t, err := scanTool(s.db.QueryRow(`SELECT `+toolColumns+` FROM tools WHERE name = ?`, name))
	if err != nil {
		return nil, notFound(err, "tool", name)
	}
	return t, nil
}

func (s *Storage) ListTools() ([]*models.Tool, error) {
	rows, err := s.db.Query(`SELECT ` + toolColumns + ` FROM tools ORDER BY category, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Tool
	for rows.Next() {
		t, err := scanTool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Storage) DeleteTool(id int64) error {
	result, err := s.db.Exec(`DELETE FROM tools WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkAffected(result, "tool", id)
}
