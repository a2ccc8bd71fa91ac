package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/money"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "modernc.org/sqlite"
)

const maxPageSize = 100

// Repository is the SQLite product catalog.
type Repository struct {
	db *sql.DB
}

type Filter struct {
	Category string
	// case-insensitive substring of the product name
	Query string
	Page  int
	Size  int
}

func NewRepository(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	// :memory: databases are per connection
	db.SetMaxOpenConns(1)

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

const productColumns = `id, name, description, category, image_url, price, currency, available_stock, active, created_at`

func (r *Repository) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, productID)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query product: %w", err)
	}
	return p, nil
}

// ListProducts pages through active products matching f, ordered by name.
func (r *Repository) ListProducts(ctx context.Context, f Filter) (domain.Page[*domain.Product], error) {
	if f.Size <= 0 || f.Size > maxPageSize {
		f.Size = 20
	}
	if f.Page < 0 {
		f.Page = 0
	}

	where := []string{"active = 1"}
	var args []any
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		where = append(where, "LOWER(name) LIKE ?")
		args = append(args, "%"+strings.ToLower(q)+"%")
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products WHERE `+clause, args...).Scan(&total); err != nil {
		return domain.Page[*domain.Product]{}, fmt.Errorf("failed to count products: %w", err)
	}

	query := `SELECT ` + productColumns + ` FROM products WHERE ` + clause + ` ORDER BY name, id LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, append(args, f.Size, f.Page*f.Size)...)
	if err != nil {
		return domain.Page[*domain.Product]{}, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []*domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return domain.Page[*domain.Product]{}, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return domain.Page[*domain.Product]{}, fmt.Errorf("row iteration error: %w", err)
	}

	return domain.NewPage(products, f.Page, f.Size, total), nil
}

func (r *Repository) UpsertProduct(ctx context.Context, p *domain.Product) error {
	query := `
		INSERT INTO products (id, name, description, category, image_url, price, currency, available_stock, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			category = excluded.category,
			image_url = excluded.image_url,
			price = excluded.price,
			currency = excluded.currency,
			available_stock = excluded.available_stock,
			active = excluded.active
	`
	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.Name, p.Description, p.Category, p.ImageURL,
		p.UnitPrice.Amount().String(), p.UnitPrice.Currency(),
		p.AvailableStock, p.Active)
	if err != nil {
		return fmt.Errorf("failed to upsert product: %w", err)
	}
	return nil
}

func (r *Repository) SetStock(ctx context.Context, productID string, stock int) error {
	res, err := r.db.ExecContext(ctx, `UPDATE products SET available_stock = ? WHERE id = ?`, stock, productID)
	if err != nil {
		return fmt.Errorf("failed to update stock: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
	}
	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(s scanner) (*domain.Product, error) {
	var (
		p               domain.Product
		price, currency string
	)
	err := s.Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.Category,
		&p.ImageURL,
		&price,
		&currency,
		&p.AvailableStock,
		&p.Active,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if p.UnitPrice, err = money.Parse(price, currency); err != nil {
		return nil, fmt.Errorf("product %s: %w", p.ID, err)
	}
	return &p, nil
}
