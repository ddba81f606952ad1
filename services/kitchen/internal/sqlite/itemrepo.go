// Package sqlite contains a SQLite implementation of the kitchen item store
// and the order metadata it is displayed with.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/expo/pkg/enums/kitchenstatus"
	"github.com/appetiteclub/expo/services/kitchen/internal/kitchen"
	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS kitchen_items (
	id             TEXT PRIMARY KEY,
	order_id       TEXT NOT NULL,
	menu_item_id   TEXT NOT NULL,
	menu_item_name TEXT NOT NULL DEFAULT '',
	quantity       INTEGER NOT NULL,
	station        TEXT NOT NULL,
	notes          TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	is_urgent      INTEGER NOT NULL DEFAULT 0,
	created_at     INTEGER NOT NULL,
	started_at     INTEGER,
	completed_at   INTEGER
);
CREATE INDEX IF NOT EXISTS idx_kitchen_items_station ON kitchen_items (station, created_at);
CREATE INDEX IF NOT EXISTS idx_kitchen_items_order ON kitchen_items (order_id);
CREATE INDEX IF NOT EXISTS idx_kitchen_items_completed ON kitchen_items (status, completed_at);
CREATE TABLE IF NOT EXISTS kitchen_orders (
	id             TEXT PRIMARY KEY,
	display_number TEXT NOT NULL DEFAULT '',
	table_label    TEXT NOT NULL DEFAULT '',
	staff_name     TEXT NOT NULL DEFAULT '',
	created_at     INTEGER NOT NULL
);
`

const selectColumns = "id, order_id, menu_item_id, menu_item_name, quantity, station, notes, status, is_urgent, created_at, started_at, completed_at"

// ItemRepo implements kitchen.ItemStore with SQLite. Timestamps are stored as
// UTC unix nanoseconds. Status changes run as a conditional UPDATE inside a
// transaction, so the row read back is the row that was written.
type ItemRepo struct {
	path   string
	db     *sql.DB
	logger apt.Logger
}

// NewItemRepo creates a repository for the database file at path. Use
// ":memory:" for a throwaway database.
func NewItemRepo(path string, logger apt.Logger) *ItemRepo {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if path == "" {
		path = "expo_kitchen.db"
	}
	return &ItemRepo{path: path, logger: logger}
}

func (r *ItemRepo) Start(ctx context.Context) error {
	dsn := r.path
	if dsn != ":memory:" {
		dsn = "file:" + r.path + "?_busy_timeout=5000&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; also keeps a :memory: database on one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	r.db = db
	r.logger.Infof("Opened SQLite item store: %s", r.path)
	return nil
}

func (r *ItemRepo) Stop(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	r.logger.Info("Closed SQLite item store")
	return nil
}

// Ping reports whether the database is usable.
func (r *ItemRepo) Ping(ctx context.Context) error {
	if r.db == nil {
		return errors.New("sqlite item repo not started")
	}
	return r.db.PingContext(ctx)
}

func (r *ItemRepo) Create(ctx context.Context, item *kitchen.OrderTicketItem) error {
	if err := kitchen.ValidateNewItem(item); err != nil {
		return err
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO kitchen_items ("+selectColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		item.ID.String(), item.OrderID.String(), item.MenuItemID.String(), item.MenuItemName,
		item.Quantity, item.Station, item.Notes, item.Status.Code(), item.IsUrgent,
		item.CreatedAt.UTC().UnixNano(), nullTime(item.StartedAt), nullTime(item.CompletedAt),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return kitchen.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create item: %w", err)
	}
	return nil
}

func (r *ItemRepo) Get(ctx context.Context, id kitchen.ItemID) (*kitchen.OrderTicketItem, error) {
	return getItem(ctx, r.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getItem(ctx context.Context, q queryRower, id kitchen.ItemID) (*kitchen.OrderTicketItem, error) {
	row := q.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM kitchen_items WHERE id = ?", id.String())
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kitchen.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

func (r *ItemRepo) CompareAndSet(ctx context.Context, id kitchen.ItemID, expected, next kitchen.Status, at time.Time) (*kitchen.OrderTicketItem, error) {
	stamp, err := kitchen.StampFor(expected, next)
	if err != nil {
		return nil, err
	}

	sets := []string{"status = ?"}
	args := []any{next.Code()}
	stamped := at.UTC().UnixNano()

	if stamp.SetStarted {
		sets = append(sets, "started_at = ?")
		args = append(args, stamped)
	}
	if stamp.SetCompleted {
		sets = append(sets, "completed_at = ?")
		args = append(args, stamped)
	}
	if stamp.ClearCompleted {
		sets = append(sets, "completed_at = NULL")
	}
	if stamp.ClearUrgent {
		sets = append(sets, "is_urgent = 0")
	}
	args = append(args, id.String(), expected.Code())

	query := "UPDATE kitchen_items SET " + strings.Join(sets, ", ") + " WHERE id = ? AND status = ?"
	return r.updateAndRead(ctx, id, query, args, kitchen.ErrConflict)
}

func (r *ItemRepo) SetUrgent(ctx context.Context, id kitchen.ItemID, urgent bool) (*kitchen.OrderTicketItem, error) {
	// A finished item never needs urgent attention.
	query := "UPDATE kitchen_items SET is_urgent = CASE WHEN status = ? THEN 0 ELSE ? END WHERE id = ?"
	args := []any{kitchenstatus.Statuses.Done.Code(), urgent, id.String()}
	return r.updateAndRead(ctx, id, query, args, kitchen.ErrNotFound)
}

// updateAndRead runs a single-row update and returns the row as written. When
// nothing matched it reports ErrNotFound for a missing row and missErr
// otherwise.
func (r *ItemRepo) updateAndRead(ctx context.Context, id kitchen.ItemID, query string, args []any, missErr error) (*kitchen.OrderTicketItem, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to update item: %w", err)
	}

	item, err := getItem(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, missErr
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit item update: %w", err)
	}
	return item, nil
}

func (r *ItemRepo) List(ctx context.Context, filter kitchen.ItemFilter) ([]kitchen.OrderTicketItem, error) {
	query := "SELECT " + selectColumns + " FROM kitchen_items"
	var where []string
	var args []any

	if filter.Station != "" {
		where = append(where, "station = ?")
		args = append(args, filter.Station)
	}
	if filter.OrderID != nil {
		where = append(where, "order_id = ?")
		args = append(args, filter.OrderID.String())
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, filter.Status.Code())
	}
	if filter.ActiveOnly {
		where = append(where, "status IN (?, ?)")
		args = append(args, kitchenstatus.Statuses.Pending.Code(), kitchenstatus.Statuses.Cooking.Code())
	}
	if filter.CompletedSince != nil {
		where = append(where, "completed_at >= ?")
		args = append(args, filter.CompletedSince.UTC().UnixNano())
	}

	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []kitchen.OrderTicketItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}

	return items, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(s scanner) (*kitchen.OrderTicketItem, error) {
	var (
		id, orderID, menuItemID string
		status                  string
		createdAt               int64
		startedAt, completedAt  sql.NullInt64
	)

	item := &kitchen.OrderTicketItem{}
	err := s.Scan(&id, &orderID, &menuItemID, &item.MenuItemName, &item.Quantity, &item.Station,
		&item.Notes, &status, &item.IsUrgent, &createdAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if item.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid item id %q: %w", id, err)
	}
	if item.OrderID, err = uuid.Parse(orderID); err != nil {
		return nil, fmt.Errorf("invalid order id %q: %w", orderID, err)
	}
	if item.MenuItemID, err = uuid.Parse(menuItemID); err != nil {
		return nil, fmt.Errorf("invalid menu item id %q: %w", menuItemID, err)
	}
	parsed := kitchenstatus.ByName(status)
	if parsed == nil {
		return nil, fmt.Errorf("unknown status %q for item %s", status, id)
	}
	item.Status = *parsed

	item.CreatedAt = time.Unix(0, createdAt).UTC()
	item.StartedAt = timeFrom(startedAt)
	item.CompletedAt = timeFrom(completedAt)
	return item, nil
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().UnixNano(), Valid: true}
}

func timeFrom(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}

// SaveOrder upserts the metadata of an order.
func (r *ItemRepo) SaveOrder(ctx context.Context, info kitchen.OrderInfo) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO kitchen_orders (id, display_number, table_label, staff_name, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	display_number = excluded.display_number,
	table_label = excluded.table_label,
	staff_name = excluded.staff_name,
	created_at = excluded.created_at`,
		info.OrderID.String(), info.DisplayNumber, info.TableLabel, info.StaffName,
		info.CreatedAt.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

func (r *ItemRepo) DeleteOrder(ctx context.Context, orderID kitchen.OrderID) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM kitchen_orders WHERE id = ?", orderID.String()); err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	return nil
}

func (r *ItemRepo) ListOrders(ctx context.Context) ([]kitchen.OrderInfo, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, display_number, table_label, staff_name, created_at FROM kitchen_orders ORDER BY created_at ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var infos []kitchen.OrderInfo
	for rows.Next() {
		var (
			id        string
			createdAt int64
			info      kitchen.OrderInfo
		)
		if err := rows.Scan(&id, &info.DisplayNumber, &info.TableLabel, &info.StaffName, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		if info.OrderID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid order id %q: %w", id, err)
		}
		info.CreatedAt = time.Unix(0, createdAt).UTC()
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return infos, nil
}
