package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const (
	orderColumns = `id, user_id, shipping_address, total_amount, currency, payment_method, payment_status, status,
	external_order_id, external_payment_id, created_at, updated_at, delivered_at`

	insertOrderQuery = `INSERT INTO orders (` + orderColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	insertLineQuery = `INSERT INTO order_lines (order_id, line_no, product_id, product_name, seller_id, quantity, unit_price)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

	insertEventQuery = `INSERT INTO order_status_events (order_id, actor_id, actor_role, from_status, to_status, payment_status, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

	selectOrderByIDQuery         = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	selectOrderForUpdateQuery    = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`
	selectOrderByExternalIDQuery = `SELECT ` + orderColumns + ` FROM orders WHERE external_order_id = $1`
	selectOrdersByUserQuery      = `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`
	selectOrdersBySellerQuery    = `SELECT ` + orderColumns + ` FROM orders
	WHERE id IN (SELECT order_id FROM order_lines WHERE seller_id = $1) ORDER BY created_at DESC`

	selectLinesQuery = `SELECT order_id, product_id, product_name, seller_id, quantity, unit_price
	FROM order_lines WHERE order_id = ANY($1::uuid[]) ORDER BY order_id, line_no`

	updateOrderQuery = `UPDATE orders SET payment_status = $2, status = $3, external_order_id = $4,
	external_payment_id = $5, updated_at = $6, delivered_at = $7 WHERE id = $1`

	selectEventsQuery = `SELECT id, order_id, actor_id, actor_role, from_status, to_status, payment_status, created_at
	FROM order_status_events WHERE order_id = $1 ORDER BY id`
)

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(cred *Credentials) (*PostgresRepository, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	return &PostgresRepository{db: db}, nil
}

// NewPostgresRepositoryWithDB wraps an existing handle.
func NewPostgresRepositoryWithDB(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "orders_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

// CreateOrder writes the order, its lines and the initial history row in one transaction.
func (r *PostgresRepository) CreateOrder(ctx context.Context, order *domain.Order, actor domain.Actor) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, insertOrderQuery,
		order.ID,
		order.UserID,
		order.ShippingAddress,
		order.TotalAmount,
		order.Currency,
		string(order.PaymentMethod),
		string(order.PaymentStatus),
		string(order.Status),
		nullString(order.ExternalOrderID),
		nullString(order.ExternalPaymentID),
		order.CreatedAt,
		order.UpdatedAt,
		nullTime(order.DeliveredAt),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateExternalRef
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i, line := range order.Lines {
		_, err = tx.ExecContext(ctx, insertLineQuery,
			order.ID, i+1, line.ProductID, line.ProductName, line.SellerID, line.Quantity, line.UnitPrice)
		if err != nil {
			return fmt.Errorf("insert order line %d: %w", i+1, err)
		}
	}

	if err = insertEvent(ctx, tx, order, actor, nil); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit order: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.getOne(ctx, selectOrderByIDQuery, id)
}

func (r *PostgresRepository) GetOrderByExternalOrderID(ctx context.Context, externalOrderID string) (*domain.Order, error) {
	return r.getOne(ctx, selectOrderByExternalIDQuery, externalOrderID)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	if err := loadLines(ctx, r.db, []*domain.Order{order}); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *PostgresRepository) ListOrdersByUserID(ctx context.Context, userID string) ([]*domain.Order, error) {
	return r.list(ctx, selectOrdersByUserQuery, userID)
}

// ListOrdersBySellerID returns every order holding at least one of the seller's lines,
// with all of its lines.
func (r *PostgresRepository) ListOrdersBySellerID(ctx context.Context, sellerID string) ([]*domain.Order, error) {
	return r.list(ctx, selectOrdersBySellerQuery, sellerID)
}

func (r *PostgresRepository) list(ctx context.Context, query string, arg any) ([]*domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := []*domain.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	if err := loadLines(ctx, r.db, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// UpdateOrder locks the order row, hands the current state to mutate and persists the
// result together with a history row. The check inside mutate therefore sees the
// committed state, not a stale read.
func (r *PostgresRepository) UpdateOrder(ctx context.Context, id uuid.UUID, actor domain.Actor, mutate OrderMutation) (*domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	order, err := scanOrder(tx.QueryRowContext(ctx, selectOrderForUpdateQuery, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock order: %w", err)
	}
	if err = loadLines(ctx, tx, []*domain.Order{order}); err != nil {
		return nil, err
	}

	from := order.Status
	if err = mutate(order); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, updateOrderQuery,
		order.ID,
		string(order.PaymentStatus),
		string(order.Status),
		nullString(order.ExternalOrderID),
		nullString(order.ExternalPaymentID),
		order.UpdatedAt,
		nullTime(order.DeliveredAt),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, ErrDuplicateExternalRef
		}
		return nil, fmt.Errorf("update order: %w", err)
	}

	if err = insertEvent(ctx, tx, order, actor, &from); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit order update: %w", err)
	}
	return order, nil
}

func (r *PostgresRepository) ListStatusEvents(ctx context.Context, orderID uuid.UUID) ([]domain.StatusEvent, error) {
	rows, err := r.db.QueryContext(ctx, selectEventsQuery, orderID)
	if err != nil {
		return nil, fmt.Errorf("query status events: %w", err)
	}
	defer rows.Close()

	events := []domain.StatusEvent{}
	for rows.Next() {
		var (
			ev   domain.StatusEvent
			from sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.OrderID, &ev.ActorID, &ev.ActorRole, &from, &ev.ToStatus, &ev.Payment, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan status event: %w", err)
		}
		if from.Valid {
			s := domain.OrderStatus(from.String)
			ev.FromStatus = &s
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, order *domain.Order, actor domain.Actor, from *domain.OrderStatus) error {
	var fromArg sql.NullString
	if from != nil {
		fromArg = sql.NullString{String: string(*from), Valid: true}
	}
	_, err := tx.ExecContext(ctx, insertEventQuery,
		order.ID, actor.ID, string(actor.Role), fromArg, string(order.Status), string(order.PaymentStatus), order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert status event: %w", err)
	}
	return nil
}

func loadLines(ctx context.Context, q queryer, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	byID := make(map[uuid.UUID]*domain.Order, len(orders))
	for i, o := range orders {
		ids[i] = o.ID.String()
		byID[o.ID] = o
		o.Lines = []domain.OrderLine{}
	}

	rows, err := q.QueryContext(ctx, selectLinesQuery, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("query order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID uuid.UUID
			line    domain.OrderLine
		)
		if err := rows.Scan(&orderID, &line.ProductID, &line.ProductName, &line.SellerID, &line.Quantity, &line.UnitPrice); err != nil {
			return fmt.Errorf("scan order line: %w", err)
		}
		if o, ok := byID[orderID]; ok {
			o.Lines = append(o.Lines, line)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("row iteration error: %w", err)
	}
	return nil
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o                    domain.Order
		extOrder, extPayment sql.NullString
		deliveredAt          sql.NullTime
	)
	err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.ShippingAddress,
		&o.TotalAmount,
		&o.Currency,
		&o.PaymentMethod,
		&o.PaymentStatus,
		&o.Status,
		&extOrder,
		&extPayment,
		&o.CreatedAt,
		&o.UpdatedAt,
		&deliveredAt,
	)
	if err != nil {
		return nil, err
	}
	if extOrder.Valid {
		o.ExternalOrderID = &extOrder.String
	}
	if extPayment.Valid {
		o.ExternalPaymentID = &extPayment.String
	}
	if deliveredAt.Valid {
		t := deliveredAt.Time
		o.DeliveredAt = &t
	}
	return &o, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
