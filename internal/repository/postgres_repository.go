package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/money"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"
)

// openDB is replaced in tests to observe the pool.
var openDB = sql.Open

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

	db, err := openDB("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	return &PostgresRepository{db: db}, nil
}

func (r *PostgresRepository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "storefront_schema_migrations",
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

const cartColumns = `id, customer_id, status, currency, items, total_quantity, total_value, version, created_at, updated_at`

func (r *PostgresRepository) GetActiveCart(ctx context.Context, customerID string) (*domain.Cart, error) {
	query := `SELECT ` + cartColumns + ` FROM carts WHERE customer_id = $1 AND status = 'ACTIVE'`

	cart, err := scanCart(r.db.QueryRowContext(ctx, query, customerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query active cart: %w", err)
	}
	return cart, nil
}

func (r *PostgresRepository) SaveCart(ctx context.Context, cart *domain.Cart) error {
	return saveCart(ctx, r.db, cart)
}

func (r *PostgresRepository) FinalizeCart(ctx context.Context, cart *domain.Cart, order *domain.Order, event OutboxEvent) error {
	if cart.Version == 0 {
		return ErrVersionConflict
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin finalize tx: %w", err)
	}
	defer tx.Rollback()

	if err := saveCart(ctx, tx, cart); err != nil {
		return err
	}
	if err := insertOrder(ctx, tx, order); err != nil {
		cart.Version--
		return err
	}
	if err := insertEvent(ctx, tx, event); err != nil {
		cart.Version--
		return err
	}
	if err := tx.Commit(); err != nil {
		cart.Version--
		return fmt.Errorf("commit finalize tx: %w", err)
	}
	order.Version = 1
	return nil
}

const orderColumns = `id, order_number, customer_id, cart_id, items, total_value, currency, status, delivery_address, payment, notes, version, created_at, updated_at`

func (r *PostgresRepository) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		var pqErr *pq.Error
		// 22P02: invalid_text_representation, the id is not a uuid
		if errors.As(err, &pqErr) && pqErr.Code == "22P02" {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("query order by id: %w", err)
	}
	return order, nil
}

func (r *PostgresRepository) GetOrderByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE order_number = $1`

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, orderNumber))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order by number: %w", err)
	}
	return order, nil
}

func (r *PostgresRepository) ListOrdersByCustomer(ctx context.Context, customerID string, page, size int) (domain.Page[*domain.Order], error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE customer_id = $1`, customerID).Scan(&total); err != nil {
		return domain.Page[*domain.Order]{}, fmt.Errorf("count orders: %w", err)
	}

	query := `SELECT ` + orderColumns + ` FROM orders WHERE customer_id = $1
	          ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, customerID, size, page*size)
	if err != nil {
		return domain.Page[*domain.Order]{}, fmt.Errorf("query orders by customer: %w", err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return domain.Page[*domain.Order]{}, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return domain.Page[*domain.Order]{}, fmt.Errorf("row iteration error: %w", err)
	}

	return domain.NewPage(orders, page, size, total), nil
}

func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, order *domain.Order, event OutboxEvent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin status tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = $1, version = version + 1, updated_at = $2 WHERE id = $3 AND version = $4`,
		order.Status, order.UpdatedAt, order.ID, order.Version)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, order.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check order exists: %w", err)
		}
		if !exists {
			return ErrOrderNotFound
		}
		return ErrVersionConflict
	}

	if err := insertEvent(ctx, tx, event); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit status tx: %w", err)
	}
	order.Version++
	return nil
}

const customerColumns = `id, name, email, cpf, phone, address, active, created_at, updated_at`

func (r *PostgresRepository) CreateCustomer(ctx context.Context, customer *domain.Customer, event OutboxEvent) error {
	var address any
	if customer.Address != nil {
		data, err := json.Marshal(customer.Address)
		if err != nil {
			return fmt.Errorf("failed to marshal customer address: %w", err)
		}
		address = data
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin customer tx: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO customers (` + customerColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = tx.ExecContext(ctx, query,
		customer.ID, customer.Name, customer.Email, customer.CPF, sql.NullString{String: customer.Phone, Valid: customer.Phone != ""},
		address, customer.Active, customer.CreatedAt, customer.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateCustomer
		}
		return fmt.Errorf("insert customer: %w", err)
	}
	if err := insertEvent(ctx, tx, event); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit customer tx: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return r.findCustomer(ctx, "id", id)
}

func (r *PostgresRepository) GetCustomerByEmail(ctx context.Context, email string) (*domain.Customer, error) {
	return r.findCustomer(ctx, "email", email)
}

func (r *PostgresRepository) GetCustomerByCPF(ctx context.Context, cpf string) (*domain.Customer, error) {
	return r.findCustomer(ctx, "cpf", cpf)
}

// findCustomer is only called with a fixed column name.
func (r *PostgresRepository) findCustomer(ctx context.Context, column, value string) (*domain.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE ` + column + ` = $1`

	var (
		c           domain.Customer
		phone       sql.NullString
		addressJSON []byte
	)
	err := r.db.QueryRowContext(ctx, query, value).Scan(
		&c.ID, &c.Name, &c.Email, &c.CPF, &phone, &addressJSON, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCustomerNotFound
	}
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "22P02" {
			return nil, ErrCustomerNotFound
		}
		return nil, fmt.Errorf("query customer by %s: %w", column, err)
	}
	c.Phone = phone.String
	if len(addressJSON) > 0 {
		if err := json.Unmarshal(addressJSON, &c.Address); err != nil {
			return nil, fmt.Errorf("unmarshal customer address: %w", err)
		}
	}
	return &c, nil
}

func (r *PostgresRepository) GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	query := `SELECT id, aggregate_id, event_type, payload, created_at FROM outbox_events
	          WHERE processed_at IS NULL ORDER BY created_at LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox events: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		var ev OutboxEvent
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.AggregateID, &ev.EventType, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		ev.Payload = payload
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

func (r *PostgresRepository) MarkEventAsProcessed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE outbox_events SET processed_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveCart(ctx context.Context, db execer, cart *domain.Cart) error {
	itemsJSON, err := json.Marshal(cart.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal cart items: %w", err)
	}

	if cart.Version == 0 {
		query := `INSERT INTO carts (` + cartColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $9)`
		_, err := db.ExecContext(ctx, query,
			cart.ID, cart.CustomerID, cart.Status, cart.Currency, itemsJSON,
			cart.TotalQuantity, cart.TotalValue.Amount().String(), cart.CreatedAt, cart.UpdatedAt)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return ErrVersionConflict
			}
			return fmt.Errorf("insert cart: %w", err)
		}
		cart.Version = 1
		return nil
	}

	query := `UPDATE carts SET status = $1, currency = $2, items = $3, total_quantity = $4, total_value = $5,
	          version = version + 1, updated_at = $6
	          WHERE id = $7 AND version = $8 AND status = 'ACTIVE'`
	res, err := db.ExecContext(ctx, query,
		cart.Status, cart.Currency, itemsJSON, cart.TotalQuantity, cart.TotalValue.Amount().String(),
		cart.UpdatedAt, cart.ID, cart.Version)
	if err != nil {
		return fmt.Errorf("update cart: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVersionConflict
	}
	cart.Version++
	return nil
}

func insertOrder(ctx context.Context, db execer, order *domain.Order) error {
	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal order items: %w", err)
	}
	addressJSON, err := json.Marshal(order.DeliveryAddress)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery address: %w", err)
	}
	paymentJSON, err := json.Marshal(order.Payment)
	if err != nil {
		return fmt.Errorf("failed to marshal payment: %w", err)
	}

	query := `INSERT INTO orders (` + orderColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1, $12, $13)`
	_, err = db.ExecContext(ctx, query,
		order.ID, order.OrderNumber, order.CustomerID, order.CartID, itemsJSON,
		order.TotalValue.Amount().String(), order.TotalValue.Currency(), order.Status,
		addressJSON, paymentJSON, order.Notes, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateOrder
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func insertEvent(ctx context.Context, db execer, ev OutboxEvent) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO outbox_events (id, aggregate_id, event_type, payload, created_at) VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, ev.AggregateID, ev.EventType, []byte(ev.Payload), ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCart(row rowScanner) (*domain.Cart, error) {
	var (
		cart      domain.Cart
		itemsJSON []byte
		total     string
	)
	err := row.Scan(
		&cart.ID,
		&cart.CustomerID,
		&cart.Status,
		&cart.Currency,
		&itemsJSON,
		&cart.TotalQuantity,
		&total,
		&cart.Version,
		&cart.CreatedAt,
		&cart.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(itemsJSON, &cart.Items); err != nil {
		return nil, fmt.Errorf("unmarshal cart items: %w", err)
	}
	if cart.Items == nil {
		cart.Items = map[string]*domain.LineItem{}
	}
	if cart.TotalValue, err = money.Parse(total, cart.Currency); err != nil {
		return nil, fmt.Errorf("parse cart total: %w", err)
	}
	return &cart, nil
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order                               domain.Order
		itemsJSON, addressJSON, paymentJSON []byte
		total, currency                     string
	)
	err := row.Scan(
		&order.ID,
		&order.OrderNumber,
		&order.CustomerID,
		&order.CartID,
		&itemsJSON,
		&total,
		&currency,
		&order.Status,
		&addressJSON,
		&paymentJSON,
		&order.Notes,
		&order.Version,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
		return nil, fmt.Errorf("unmarshal order items: %w", err)
	}
	if err := json.Unmarshal(addressJSON, &order.DeliveryAddress); err != nil {
		return nil, fmt.Errorf("unmarshal delivery address: %w", err)
	}
	if err := json.Unmarshal(paymentJSON, &order.Payment); err != nil {
		return nil, fmt.Errorf("unmarshal payment: %w", err)
	}
	if order.TotalValue, err = money.Parse(total, currency); err != nil {
		return nil, fmt.Errorf("parse order total: %w", err)
	}
	return &order, nil
}
