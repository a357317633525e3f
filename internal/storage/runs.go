package storage

import (
	"database/sql"
	"time"

	"github.com/mpataki/deck/internal/models"
)

const runColumns = `id, workspace_id, action_id, status, started_at, completed_at, exit_code, error_message, created_at`

func (s *Storage) CreateRun(run *models.Run) (int64, error) {
	var completedAt *time.Time
	if run.CompletedAt != nil {
		t := run.CompletedAt.UTC()
		completedAt = &t
	}
	result, err := s.db.Exec(
		`INSERT INTO runs (workspace_id, action_id, status, started_at, completed_at, exit_code, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.WorkspaceID, run.ActionID, run.Status, run.StartedAt.UTC(), completedAt, run.ExitCode, run.ErrorMessage,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// PruneRuns keeps the keep most recent runs of an action, by started_at, and
// returns how many rows were deleted.
func (s *Storage) PruneRuns(actionID int64, keep int) (int64, error) {
	result, err := s.db.Exec(
		`DELETE FROM runs WHERE action_id = ? AND id NOT IN (
			SELECT id FROM runs WHERE action_id = ? ORDER BY started_at DESC, id DESC LIMIT ?
		)`,
		actionID, actionID, keep,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanRun(row interface{ Scan(...any) error }) (*models.Run, error) {
	var run models.Run
	var completedAt sql.NullTime
	var exitCode sql.NullInt64
	var errMsg sql.NullString

	err := row.Scan(
		&run.ID, &run.WorkspaceID, &run.ActionID, &run.Status, &run.StartedAt,
		&completedAt, &exitCode, &errMsg, &run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	run.ExitCode = nullInt(exitCode)
	run.ErrorMessage = nullString(errMsg)
	return &run, nil
}

func (s *Storage) GetRun(id int64) (*models.Run, error) {
	run, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "run", id)
	}
	return run, nil
}

func (s *Storage) queryRuns(query string, args ...any) ([]*models.Run, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListRunsForAction returns an action's runs, newest first.
func (s *Storage) ListRunsForAction(actionID int64, limit int) ([]*models.Run, error) {
	return s.queryRuns(
		`SELECT `+runColumns+` FROM runs WHERE action_id = ? ORDER BY started_at DESC, id DESC LIMIT ?`,
		actionID, limit,
	)
}

// ListRunsForWorkspace returns a workspace's runs, newest first.
func (s *Storage) ListRunsForWorkspace(workspaceID int64, limit int) ([]*models.Run, error) {
	return s.queryRuns(
		`SELECT `+runColumns+` FROM runs WHERE workspace_id = ? ORDER BY started_at DESC, id DESC LIMIT ?`,
		workspaceID, limit,
	)
}

func (s *Storage) CountRuns(actionID int64) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM runs WHERE action_id = ?`, actionID).Scan(&n)
	return n, err
}

func (s *Storage) DeleteRun(id int64) error {
	result, err := s.db.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkAffected(result, "run", id)
}
