package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	bridge "github.com/StarfleetAI/bridge-common"
)

type settingsRepo struct {
	q querier
}

func (r *settingsRepo) Get(ctx context.Context, tenantID uuid.UUID) (*bridge.Settings, error) {
	var data string
	err := r.q.QueryRowContext(ctx, `SELECT data FROM settings WHERE tenant_id = ?`, tenantID.String()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		s := bridge.DefaultSettings()
		return &s, nil
	}
	if err != nil {
		return nil, err
	}
	var s bridge.Settings
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *settingsRepo) Put(ctx context.Context, tenantID uuid.UUID, s *bridge.Settings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, `INSERT INTO settings (tenant_id, data) VALUES (?, ?)
		ON CONFLICT (tenant_id) DO UPDATE SET data = excluded.data`, tenantID.String(), string(data))
	return err
}
