package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

var ErrProductNotFound = errors.New("product not found")

const productColumns = `id, seller_id, name, description, price, currency, available, image_url, created_at, updated_at`

type Repository struct {
	db *sql.DB
}

func NewRepository(dsn string) (*Repository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows one writer; a single connection also keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) RunMigrations(migrationsPath string) error {
	driver, err := sqlite.WithInstance(r.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationsPath),
		"sqlite",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	return nil
}

func (r *Repository) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = ?`

	p, err := scanProduct(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query product: %w", err)
	}
	return p, nil
}

func (r *Repository) ListBySeller(ctx context.Context, sellerID string) ([]*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE seller_id = ? ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, sellerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	products := []*domain.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return products, nil
}

// UpsertProduct inserts a product or replaces every mutable field of an existing one.
// A zero ID lets sqlite assign one, written back into p.
func (r *Repository) UpsertProduct(ctx context.Context, p *domain.Product) error {
	now := time.Now().UTC()
	var id any
	if p.ID != 0 {
		id = p.ID
	}
	query := `INSERT INTO products (id, seller_id, name, description, price, currency, available, image_url, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET seller_id = excluded.seller_id, name = excluded.name,
	description = excluded.description, price = excluded.price, currency = excluded.currency,
	available = excluded.available, image_url = excluded.image_url, updated_at = excluded.updated_at
	RETURNING id`

	err := r.db.QueryRowContext(ctx, query, id, p.SellerID, p.Name, p.Description, p.Price.StringFixed(2),
		p.Currency, p.Available, p.ImageURL, now, now).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert product: %w", err)
	}
	p.UpdatedAt = now
	return nil
}

func (r *Repository) UpdatePrice(ctx context.Context, id int64, price decimal.Decimal) error {
	res, err := r.db.ExecContext(ctx, `UPDATE products SET price = ?, updated_at = ? WHERE id = ?`,
		price.StringFixed(2), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update price: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	p := &domain.Product{}
	var price string
	err := row.Scan(
		&p.ID,
		&p.SellerID,
		&p.Name,
		&p.Description,
		&price,
		&p.Currency,
		&p.Available,
		&p.ImageURL,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parse price %q: %w", price, err)
	}
	return p, nil
}
