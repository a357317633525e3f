package storage

import "github.com/mpataki/deck/internal/models"

// The running_actions table journals the in-memory registry so that separate
// deck processes agree on which launches are still being tracked.

func (s *Storage) InsertRunningAction(ra *models.RunningAction) error {
	_, err := s.db.Exec(
		`INSERT INTO running_actions (id, workspace_id, action_id, action_name, process_id, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ra.ID, ra.WorkspaceID, ra.ActionID, ra.ActionName, ra.ProcessID, ra.StartedAt.UTC(),
	)
	return err
}

func (s *Storage) UpdateRunningAction(ra *models.RunningAction) error {
	result, err := s.db.Exec(
		`UPDATE running_actions SET action_name = ?, process_id = ? WHERE id = ?`,
		ra.ActionName, ra.ProcessID, ra.ID,
	)
	if err != nil {
		return err
	}
	return checkAffected(result, "running action", ra.ID)
}

// DeleteRunningAction reports whether this call removed the row. Exactly one
// caller can observe true for a given id.
func (s *Storage) DeleteRunningAction(id string) (bool, error) {
	result, err := s.db.Exec(`DELETE FROM running_actions WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Storage) ListRunningActions() ([]*models.RunningAction, error) {
	rows, err := s.db.Query(
		`SELECT id, workspace_id, action_id, action_name, process_id, started_at
		 FROM running_actions ORDER BY started_at, id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.RunningAction
	for rows.Next() {
		var ra models.RunningAction
		if err := rows.Scan(&ra.ID, &ra.WorkspaceID, &ra.ActionID, &ra.ActionName, &ra.ProcessID, &ra.StartedAt); err != nil {
			return nil, err
		}
		out = append(out, &ra)
	}
	return out, rows.Err()
}
