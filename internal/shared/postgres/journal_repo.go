package postgres

import (
	"context"
	"encoding/json"

	"git.platform.alem.school/amibragim/expedition-supply/internal/ports"
)

// Schema creates the monitoring journal table.
const Schema = `
CREATE TABLE IF NOT EXISTS monitoring_log (
	id             BIGSERIAL PRIMARY KEY,
	observed_at    TIMESTAMPTZ NOT NULL,
	kind           TEXT NOT NULL CHECK (kind IN ('Order', 'Confirmation', 'Unrecognized')),
	team_name      TEXT,
	supplier_name  TEXT,
	equipment_type TEXT,
	order_number   INTEGER,
	message_id     TEXT,
	payload        JSONB,
	raw_payload    TEXT NOT NULL
)`

// EnsureSchema creates the journal table when it does not exist.
func EnsureSchema(ctx context.Context, db Execer) error {
	_, err := db.Exec(ctx, Schema)
	return err
}

// MonitoringRepo persists monitoring observations using pgx and SQL.
type MonitoringRepo struct{}

// NewMonitoringRepo constructs a new MonitoringRepo.
func NewMonitoringRepo() *MonitoringRepo {
	return &MonitoringRepo{}
}

// Insert appends one observation. Fields that do not apply are stored as NULL;
// payloads that are not JSON keep only their raw text.
func (r *MonitoringRepo) Insert(ctx context.Context, obs ports.Observation) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	var payload any
	if json.Valid(obs.Payload) {
		payload = string(obs.Payload)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO monitoring_log (observed_at, kind, team_name, supplier_name, equipment_type, order_number, message_id, payload, raw_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9)
	`,
		obs.ObservedAt.UTC(),
		obs.Kind,
		nullString(obs.TeamName),
		nullString(obs.SupplierName),
		nullString(obs.EquipmentType),
		nullInt(obs.OrderNumber),
		nullString(obs.MessageID),
		payload,
		string(obs.Payload),
	)
	return err
}

// Journal implements ports.Journal on top of a unit of work.
type Journal struct {
	uow  ports.UnitOfWork
	repo *MonitoringRepo
}

// NewJournal wires the repository into a transactional journal.
func NewJournal(uow ports.UnitOfWork, repo *MonitoringRepo) ports.Journal {
	return &Journal{uow: uow, repo: repo}
}

// Record stores obs in its own transaction.
func (j *Journal) Record(ctx context.Context, obs ports.Observation) error {
	return j.uow.WithinTx(ctx, func(txCtx context.Context) error {
		return j.repo.Insert(txCtx, obs)
	})
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullInt(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}
