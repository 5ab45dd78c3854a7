package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	bridge "github.com/StarfleetAI/bridge-common"
)

type settingsRepo struct {
	q querier
}

func (r *settingsRepo) Get(ctx context.Context, tenantID uuid.UUID) (*bridge.Settings, error) {
	var data []byte
	err := r.q.QueryRow(ctx, `SELECT data FROM settings WHERE tenant_id = $1`, tenantID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		s := bridge.DefaultSettings()
		return &s, nil
	}
	if err != nil {
		return nil, err
	}
	var s bridge.Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *settingsRepo) Put(ctx context.Context, tenantID uuid.UUID, s *bridge.Settings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = r.q.Exec(ctx, `INSERT INTO settings (tenant_id, data) VALUES ($1, $2)
		ON CONFLICT (tenant_id) DO UPDATE SET data = EXCLUDED.data`, tenantID, data)
	return err
}
