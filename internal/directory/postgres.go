package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/imrishuroy/go-orderflow-realtime/internal/apperr"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres serves lookups from the relational store owned by the back office.
// Lookups return (nil, nil) when the row does not exist.
type Postgres struct {
	q Querier
}

func NewPostgres(q Querier) *Postgres {
	return &Postgres{q: q}
}

// Connect opens a pool and verifies it with a ping.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func (p *Postgres) Table(ctx context.Context, id int64) (*Table, error) {
	var t Table
	err := p.q.QueryRow(ctx,
		`SELECT table_id, table_number, status FROM restaurant_tables WHERE table_id = $1`, id,
	).Scan(&t.ID, &t.Number, &t.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select table %d: %w", id, err)
	}
	return &t, nil
}

func (p *Postgres) SetTableStatus(ctx context.Context, id int64, status string) error {
	tag, err := p.q.Exec(ctx,
		`UPDATE restaurant_tables SET status = $2, updated_at = now() WHERE table_id = $1`, id, status,
	)
	if err != nil {
		return fmt.Errorf("update table %d status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("table %d not found", id)
	}
	return nil
}

func (p *Postgres) MenuItem(ctx context.Context, id int64) (*MenuItem, error) {
	var m MenuItem
	err := p.q.QueryRow(ctx,
		`SELECT item_id, item_name, price, is_available FROM menu_items WHERE item_id = $1`, id,
	).Scan(&m.ID, &m.Name, &m.Price, &m.Available)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select menu item %d: %w", id, err)
	}
	return &m, nil
}

func (p *Postgres) Staff(ctx context.Context, id int64) (*Staff, error) {
	var s Staff
	err := p.q.QueryRow(ctx,
		`SELECT staff_id, full_name, role FROM staff WHERE staff_id = $1`, id,
	).Scan(&s.ID, &s.FullName, &s.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select staff %d: %w", id, err)
	}
	return &s, nil
}

func (p *Postgres) Station(ctx context.Context, id int64) (*Station, error) {
	var s Station
	err := p.q.QueryRow(ctx,
		`SELECT station_id, station_name FROM kitchen_stations WHERE station_id = $1`, id,
	).Scan(&s.ID, &s.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select station %d: %w", id, err)
	}
	return &s, nil
}
