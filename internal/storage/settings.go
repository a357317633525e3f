package storage

import "github.com/mpataki/deck/internal/models"

func (s *Storage) SetSetting(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value,
	)
	return err
}

func (s *Storage) GetSetting(key string) (string, error) {
	var value string
	if err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value); err != nil {
		return "", notFound(err, "setting", key)
	}
	return value, nil
}

func (s *Storage) ListSettings() ([]*models.Setting, error) {
	rows, err := s.db.Query(`SELECT key, value, updated_at FROM settings ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Setting
	for rows.Next() {
		var st models.Setting
		if err := rows.Scan(&st.Key, &st.Value, &st.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}

// SettingsMap returns every setting keyed by name.
func (s *Storage) SettingsMap() (map[string]string, error) {
	settings, err := s.ListSettings()
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, len(settings))
	for _, st := range settings {
		m[st.Key] = st.Value
	}
	return m, nil
}

func (s *Storage) DeleteSetting(key string) error {
	result, err := s.db.Exec(`DELETE FROM settings WHERE key = ?`, key)
	if err != nil {
		return err
	}
	return checkAffected(result, "setting", key)
}
