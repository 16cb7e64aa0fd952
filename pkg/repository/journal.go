package repository

import (
	"context"
	"log"

	"github.com/georgysavva/scany/pgxscan"
	"github.com/jackc/pgx/v4/pgxpool"

	"proMessenger/pkg/api"
)

const createOrderActions = `
CREATE TABLE IF NOT EXISTS order_actions (
	message_id TEXT PRIMARY KEY,
	action     TEXT NOT NULL,
	product    TEXT NOT NULL,
	size       TEXT NOT NULL,
	quantity   INTEGER NOT NULL,
	total      NUMERIC(12, 2) NOT NULL,
	currency   TEXT NOT NULL,
	client_id  TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Journal keeps the accept/reject decisions in Postgres so a restarted
// dashboard does not act twice on the same order.
type Journal struct {
	db *pgxpool.Pool
}

func NewJournal(db *pgxpool.Pool) *Journal {
	return &Journal{db: db}
}

func (j *Journal) Migrate(ctx context.Context) error {
	if _, err := j.db.Exec(ctx, createOrderActions); err != nil {
		return err
	}
	log.Println("Order journal ready")
	return nil
}

// Record stores action. Only the first decision for a message is kept.
func (j *Journal) Record(ctx context.Context, action api.OrderAction) error {
	_, err := j.db.Exec(ctx, `
		INSERT INTO order_actions (message_id, action, product, size, quantity, total, currency, client_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (message_id) DO NOTHING`,
		action.MessageId, action.Action, action.Product, action.Size, action.Quantity,
		action.Total.String(), action.Currency, action.ClientId, action.CreatedAt,
	)
	return err
}

func (j *Journal) Processed(ctx context.Context, messageId string) (bool, error) {
	var count int
	if err := pgxscan.Get(ctx, j.db, &count, "SELECT count(*) FROM order_actions WHERE message_id = $1", messageId); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (j *Journal) History(ctx context.Context, limit int) ([]api.OrderAction, error) {
	if limit <= 0 {
		limit = 50
	}
	actions := []api.OrderAction{}
	err := pgxscan.Select(ctx, j.db, &actions, `
		SELECT message_id, action, product, size, quantity, total::text AS total, currency, client_id, created_at
		FROM order_actions
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return actions, nil
}
