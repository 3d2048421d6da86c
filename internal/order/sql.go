package order

import (
	"context"
	"database/sql"
	"embed"

	"github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/fairyhunter13/cart-checkout-engine/internal/model"
)

//go:embed migrations/*.sql
var migrations embed.FS

const errDuplicateEntry = 1062

const orderColumns = `id, principal, shipping_address, payment_token, subtotal, tax, shipping, total,
	content_hash, idempotency_key, created_at`

const lineColumns = `order_id, line_no, product_id, display_name, quantity, unit_price, tax_category, tax_rate, tax`

type lineRow struct {
	OrderID string `db:"order_id"`
	LineNo  int    `db:"line_no"`
	model.OrderLine
}

// SQLStore keeps orders in MySQL. Each order is written with its lines in
// one transaction.
type SQLStore struct {
	db *sqlx.DB
}

// Open connects to the MySQL database named by dsn. Times are parsed into
// time.Time in UTC regardless of the DSN.
func Open(ctx context.Context, dsn string) (*SQLStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "parse order store dsn")
	}
	cfg.ParseTime = true
	cfg.MultiStatements = true
	db, err := sqlx.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, errors.Wrap(err, "open order store")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping order store")
	}
	return NewSQLStore(db), nil
}

func NewSQLStore(db *sqlx.DB) *SQLStore { return &SQLStore{db: db} }

func (s *SQLStore) Close() error { return s.db.Close() }

// Migrate applies the embedded schema migrations. It is a no-op when the
// schema is current.
func (s *SQLStore) Migrate() error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return errors.Wrap(err, "load migrations")
	}
	drv, err := migratemysql.WithInstance(s.db.DB, &migratemysql.Config{})
	if err != nil {
		return errors.Wrap(err, "migration driver")
	}
	m, err := migrate.NewWithInstance("iofs", src, "mysql", drv)
	if err != nil {
		return errors.Wrap(err, "init migrations")
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "apply migrations")
	}
	return nil
}

func (s *SQLStore) Append(ctx context.Context, o model.Order) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin order tx")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.NamedExecContext(ctx, `INSERT INTO orders (`+orderColumns+`) VALUES (
		:id, :principal, :shipping_address, :payment_token, :subtotal, :tax, :shipping, :total,
		:content_hash, :idempotency_key, :created_at)`, o)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == errDuplicateEntry {
			return ErrDuplicateOrder
		}
		return errors.Wrapf(err, "insert order %s", o.ID)
	}
	if len(o.Lines) > 0 {
		rows := make([]lineRow, len(o.Lines))
		for i, ln := range o.Lines {
			rows[i] = lineRow{OrderID: o.ID, LineNo: i, OrderLine: ln}
		}
		_, err = tx.NamedExecContext(ctx, `INSERT INTO order_lines (`+lineColumns+`) VALUES `+
			`(:order_id, :line_no, :product_id, :display_name, :quantity, :unit_price, :tax_category, :tax_rate, :tax)`, rows)
		if err != nil {
			return errors.Wrapf(err, "insert lines of order %s", o.ID)
		}
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "commit order tx")
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, principal, id string) (model.Order, error) {
	var o model.Order
	err := s.db.GetContext(ctx, &o, `SELECT `+orderColumns+` FROM orders WHERE id = ? AND principal = ?`, id, principal)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, ErrOrderNotFound
	}
	if err != nil {
		return model.Order{}, errors.Wrapf(err, "select order %s", id)
	}
	orders := []model.Order{o}
	if err := s.attachLines(ctx, orders); err != nil {
		return model.Order{}, err
	}
	return orders[0], nil
}

func (s *SQLStore) List(ctx context.Context, principal string) ([]model.Order, error) {
	orders := []model.Order{}
	err := s.db.SelectContext(ctx, &orders, `SELECT `+orderColumns+` FROM orders
		WHERE principal = ? ORDER BY created_at, id`, principal)
	if err != nil {
		return nil, errors.Wrapf(err, "list orders of %s", principal)
	}
	if err := s.attachLines(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *SQLStore) Latest(ctx context.Context, principal string) (model.Order, bool, error) {
	var o model.Order
	err := s.db.GetContext(ctx, &o, `SELECT `+orderColumns+` FROM orders
		WHERE principal = ? ORDER BY created_at DESC, id DESC LIMIT 1`, principal)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, false, nil
	}
	if err != nil {
		return model.Order{}, false, errors.Wrapf(err, "latest order of %s", principal)
	}
	orders := []model.Order{o}
	if err := s.attachLines(ctx, orders); err != nil {
		return model.Order{}, false, err
	}
	return orders[0], true, nil
}

func (s *SQLStore) attachLines(ctx context.Context, orders []model.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	query, args, err := sqlx.In(`SELECT `+lineColumns+` FROM order_lines
		WHERE order_id IN (?) ORDER BY order_id, line_no`, ids)
	if err != nil {
		return errors.Wrap(err, "build order lines query")
	}
	var rows []lineRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return errors.Wrap(err, "select order lines")
	}
	byOrder := make(map[string][]model.OrderLine, len(orders))
	for _, r := range rows {
		byOrder[r.OrderID] = append(byOrder[r.OrderID], r.OrderLine)
	}
	for i := range orders {
		orders[i].Lines = byOrder[orders[i].ID]
		orders[i].CreatedAt = orders[i].CreatedAt.UTC()
	}
	return nil
}
