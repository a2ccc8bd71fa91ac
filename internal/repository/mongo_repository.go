package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/money"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// abandoned carts are dropped after 90 days
const abandonedCartTTL = 90 * 24 * 60 * 60

type MongoRepository struct {
	client    *mongo.Client
	carts     *mongo.Collection
	orders    *mongo.Collection
	customers *mongo.Collection
	outbox    *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		client:    db.Client(),
		carts:     db.Collection("carts"),
		orders:    db.Collection("orders"),
		customers: db.Collection("customers"),
		outbox:    db.Collection("outbox_events"),
	}
}

type lineItemDocument struct {
	ID            string    `bson:"id"`
	ProductID     string    `bson:"product_id"`
	ProductName   string    `bson:"product_name"`
	Quantity      int       `bson:"quantity"`
	UnitPrice     string    `bson:"unit_price"`
	Subtotal      string    `bson:"subtotal"`
	StockSnapshot int       `bson:"stock_snapshot"`
	AddedAt       time.Time `bson:"added_at"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

type cartDocument struct {
	ID            string             `bson:"_id"`
	CustomerID    string             `bson:"customer_id"`
	Status        domain.CartStatus  `bson:"status"`
	Currency      string             `bson:"currency"`
	Items         []lineItemDocument `bson:"items"`
	TotalQuantity int                `bson:"total_quantity"`
	TotalValue    string             `bson:"total_value"`
	Version       int64              `bson:"version"`
	CreatedAt     time.Time          `bson:"created_at"`
	UpdatedAt     time.Time          `bson:"updated_at"`
}

type orderItemDocument struct {
	ID          string `bson:"id"`
	ProductID   string `bson:"product_id"`
	ProductName string `bson:"product_name"`
	Quantity    int    `bson:"quantity"`
	UnitPrice   string `bson:"unit_price"`
	Subtotal    string `bson:"subtotal"`
}

type orderDocument struct {
	ID              string              `bson:"_id"`
	OrderNumber     string              `bson:"order_number"`
	CustomerID      string              `bson:"customer_id"`
	CartID          string              `bson:"cart_id"`
	Items           []orderItemDocument `bson:"items"`
	TotalValue      string              `bson:"total_value"`
	Currency        string              `bson:"currency"`
	Status          domain.OrderStatus  `bson:"status"`
	DeliveryAddress domain.Address      `bson:"delivery_address"`
	Payment         domain.PaymentInfo  `bson:"payment"`
	Notes           string              `bson:"notes"`
	Version         int64               `bson:"version"`
	CreatedAt       time.Time           `bson:"created_at"`
	UpdatedAt       time.Time           `bson:"updated_at"`
}

type customerDocument struct {
	ID        string          `bson:"_id"`
	Name      string          `bson:"name"`
	Email     string          `bson:"email"`
	CPF       string          `bson:"cpf"`
	Phone     string          `bson:"phone,omitempty"`
	Address   *domain.Address `bson:"address,omitempty"`
	Active    bool            `bson:"active"`
	CreatedAt time.Time       `bson:"created_at"`
	UpdatedAt time.Time       `bson:"updated_at"`
}

type outboxDocument struct {
	ID          string     `bson:"_id"`
	AggregateID string     `bson:"aggregate_id"`
	EventType   string     `bson:"event_type"`
	Payload     string     `bson:"payload"`
	CreatedAt   time.Time  `bson:"created_at"`
	ProcessedAt *time.Time `bson:"processed_at"`
}

func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	cartIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "customer_id", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetName("one_active_cart_per_customer").
				SetPartialFilterExpression(bson.M{"status": domain.CartStatusActive}),
		},
		{
			Keys: bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().
				SetExpireAfterSeconds(abandonedCartTTL).
				SetPartialFilterExpression(bson.M{"status": domain.CartStatusAbandoned}),
		},
	}
	if _, err := m.carts.Indexes().CreateMany(ctx, cartIndexes); err != nil {
		return fmt.Errorf("failed to create cart indexes: %w", err)
	}

	orderIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "order_number", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "cart_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "customer_id", Value: 1}, {Key: "created_at", Value: -1}}},
	}
	if _, err := m.orders.Indexes().CreateMany(ctx, orderIndexes); err != nil {
		return fmt.Errorf("failed to create order indexes: %w", err)
	}

	customerIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "cpf", Value: 1}}, Options: options.Index().SetUnique(true)},
	}
	if _, err := m.customers.Indexes().CreateMany(ctx, customerIndexes); err != nil {
		return fmt.Errorf("failed to create customer indexes: %w", err)
	}

	outboxIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "processed_at", Value: 1}, {Key: "created_at", Value: 1}}},
	}
	if _, err := m.outbox.Indexes().CreateMany(ctx, outboxIndexes); err != nil {
		return fmt.Errorf("failed to create outbox indexes: %w", err)
	}
	return nil
}

func (m *MongoRepository) GetActiveCart(ctx context.Context, customerID string) (*domain.Cart, error) {
	var doc cartDocument
	filter := bson.M{"customer_id": customerID, "status": domain.CartStatusActive}
	err := m.carts.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	return doc.toDomain()
}

func (m *MongoRepository) SaveCart(ctx context.Context, cart *domain.Cart) error {
	return m.saveCart(ctx, cart)
}

func (m *MongoRepository) saveCart(ctx context.Context, cart *domain.Cart) error {
	doc := newCartDocument(cart)

	if cart.Version == 0 {
		doc.Version = 1
		if _, err := m.carts.InsertOne(ctx, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return ErrVersionConflict
			}
			return fmt.Errorf("failed to insert cart: %w", err)
		}
		cart.Version = 1
		return nil
	}

	filter := bson.M{"_id": cart.ID, "version": cart.Version, "status": domain.CartStatusActive}
	update := bson.M{
		"$set": bson.M{
			"status":         doc.Status,
			"currency":       doc.Currency,
			"items":          doc.Items,
			"total_quantity": doc.TotalQuantity,
			"total_value":    doc.TotalValue,
			"updated_at":     doc.UpdatedAt,
		},
		"$inc": bson.M{"version": 1},
	}
	res, err := m.carts.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update cart: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrVersionConflict
	}
	cart.Version++
	return nil
}

func (m *MongoRepository) FinalizeCart(ctx context.Context, cart *domain.Cart, order *domain.Order, event OutboxEvent) error {
	if cart.Version == 0 {
		return ErrVersionConflict
	}

	session, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	expected := cart.Version
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		// WithTransaction may run this more than once
		cart.Version = expected
		if err := m.saveCart(sc, cart); err != nil {
			return nil, err
		}
		doc := newOrderDocument(order)
		doc.Version = 1
		if _, err := m.orders.InsertOne(sc, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, ErrDuplicateOrder
			}
			return nil, fmt.Errorf("failed to insert order: %w", err)
		}
		if _, err := m.outbox.InsertOne(sc, newOutboxDocument(event)); err != nil {
			return nil, fmt.Errorf("failed to insert outbox event: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		cart.Version = expected
		return err
	}
	order.Version = 1
	return nil
}

func (m *MongoRepository) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return m.findOrder(ctx, bson.M{"_id": orderID})
}

func (m *MongoRepository) GetOrderByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	return m.findOrder(ctx, bson.M{"order_number": orderNumber})
}

func (m *MongoRepository) findOrder(ctx context.Context, filter bson.M) (*domain.Order, error) {
	var doc orderDocument
	if err := m.orders.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return doc.toDomain()
}

func (m *MongoRepository) ListOrdersByCustomer(ctx context.Context, customerID string, page, size int) (domain.Page[*domain.Order], error) {
	filter := bson.M{"customer_id": customerID}
	total, err := m.orders.CountDocuments(ctx, filter)
	if err != nil {
		return domain.Page[*domain.Order]{}, fmt.Errorf("failed to count orders: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(page * size)).
		SetLimit(int64(size))
	cursor, err := m.orders.Find(ctx, filter, opts)
	if err != nil {
		return domain.Page[*domain.Order]{}, fmt.Errorf("failed to list orders: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []orderDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return domain.Page[*domain.Order]{}, fmt.Errorf("failed to decode orders: %w", err)
	}

	orders := make([]*domain.Order, 0, len(docs))
	for _, doc := range docs {
		o, err := doc.toDomain()
		if err != nil {
			return domain.Page[*domain.Order]{}, err
		}
		orders = append(orders, o)
	}
	return domain.NewPage(orders, page, size, int(total)), nil
}

func (m *MongoRepository) UpdateOrderStatus(ctx context.Context, order *domain.Order, event OutboxEvent) error {
	session, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		filter := bson.M{"_id": order.ID, "version": order.Version}
		update := bson.M{
			"$set": bson.M{"status": order.Status, "updated_at": order.UpdatedAt},
			"$inc": bson.M{"version": 1},
		}
		res, err := m.orders.UpdateOne(sc, filter, update)
		if err != nil {
			return nil, fmt.Errorf("failed to update order status: %w", err)
		}
		if res.MatchedCount == 0 {
			n, err := m.orders.CountDocuments(sc, bson.M{"_id": order.ID})
			if err != nil {
				return nil, fmt.Errorf("failed to check order: %w", err)
			}
			if n == 0 {
				return nil, ErrOrderNotFound
			}
			return nil, ErrVersionConflict
		}
		if _, err := m.outbox.InsertOne(sc, newOutboxDocument(event)); err != nil {
			return nil, fmt.Errorf("failed to insert outbox event: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		return err
	}
	order.Version++
	return nil
}

func (m *MongoRepository) CreateCustomer(ctx context.Context, customer *domain.Customer, event OutboxEvent) error {
	session, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		if _, err := m.customers.InsertOne(sc, customerDocument(*customer.Clone())); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, ErrDuplicateCustomer
			}
			return nil, fmt.Errorf("failed to insert customer: %w", err)
		}
		if _, err := m.outbox.InsertOne(sc, newOutboxDocument(event)); err != nil {
			return nil, fmt.Errorf("failed to insert outbox event: %w", err)
		}
		return nil, nil
	})
	return err
}

func (m *MongoRepository) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return m.findCustomer(ctx, bson.M{"_id": id})
}

func (m *MongoRepository) GetCustomerByEmail(ctx context.Context, email string) (*domain.Customer, error) {
	return m.findCustomer(ctx, bson.M{"email": email})
}

func (m *MongoRepository) GetCustomerByCPF(ctx context.Context, cpf string) (*domain.Customer, error) {
	return m.findCustomer(ctx, bson.M{"cpf": cpf})
}

func (m *MongoRepository) findCustomer(ctx context.Context, filter bson.M) (*domain.Customer, error) {
	var doc customerDocument
	if err := m.customers.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCustomerNotFound
		}
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	c := domain.Customer(doc)
	return &c, nil
}

func (m *MongoRepository) GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}).SetLimit(int64(limit))
	cursor, err := m.outbox.Find(ctx, bson.M{"processed_at": nil}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []outboxDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode outbox: %w", err)
	}
	events := make([]*OutboxEvent, 0, len(docs))
	for _, d := range docs {
		events = append(events, &OutboxEvent{
			ID:          d.ID,
			AggregateID: d.AggregateID,
			EventType:   d.EventType,
			Payload:     []byte(d.Payload),
			CreatedAt:   d.CreatedAt,
		})
	}
	return events, nil
}

func (m *MongoRepository) MarkEventAsProcessed(ctx context.Context, id string) error {
	_, err := m.outbox.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"processed_at": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

func (m *MongoRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func newCartDocument(c *domain.Cart) cartDocument {
	items := make([]lineItemDocument, 0, len(c.Items))
	for _, it := range c.SortedItems() {
		items = append(items, lineItemDocument{
			ID:            it.ID,
			ProductID:     it.ProductID,
			ProductName:   it.ProductName,
			Quantity:      it.Quantity,
			UnitPrice:     it.UnitPrice.Amount().String(),
			Subtotal:      it.Subtotal.Amount().String(),
			StockSnapshot: it.StockSnapshot,
			AddedAt:       it.AddedAt,
			UpdatedAt:     it.UpdatedAt,
		})
	}
	return cartDocument{
		ID:            c.ID,
		CustomerID:    c.CustomerID,
		Status:        c.Status,
		Currency:      c.Currency,
		Items:         items,
		TotalQuantity: c.TotalQuantity,
		TotalValue:    c.TotalValue.Amount().String(),
		Version:       c.Version,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

func (d cartDocument) toDomain() (*domain.Cart, error) {
	cart := &domain.Cart{
		ID:            d.ID,
		CustomerID:    d.CustomerID,
		Items:         make(map[string]*domain.LineItem, len(d.Items)),
		TotalQuantity: d.TotalQuantity,
		Currency:      d.Currency,
		Status:        d.Status,
		Version:       d.Version,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
	var err error
	if cart.TotalValue, err = money.Parse(d.TotalValue, d.Currency); err != nil {
		return nil, fmt.Errorf("cart %s total: %w", d.ID, err)
	}
	for _, it := range d.Items {
		item := &domain.LineItem{
			ID:            it.ID,
			ProductID:     it.ProductID,
			ProductName:   it.ProductName,
			Quantity:      it.Quantity,
			StockSnapshot: it.StockSnapshot,
			AddedAt:       it.AddedAt,
			UpdatedAt:     it.UpdatedAt,
		}
		if item.UnitPrice, err = money.Parse(it.UnitPrice, d.Currency); err != nil {
			return nil, fmt.Errorf("cart %s line %s: %w", d.ID, it.ProductID, err)
		}
		if item.Subtotal, err = money.Parse(it.Subtotal, d.Currency); err != nil {
			return nil, fmt.Errorf("cart %s line %s: %w", d.ID, it.ProductID, err)
		}
		cart.Items[it.ProductID] = item
	}
	return cart, nil
}

func newOrderDocument(o *domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemDocument{
			ID:          it.ID,
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice.Amount().String(),
			Subtotal:    it.Subtotal.Amount().String(),
		})
	}
	return orderDocument{
		ID:              o.ID,
		OrderNumber:     o.OrderNumber,
		CustomerID:      o.CustomerID,
		CartID:          o.CartID,
		Items:           items,
		TotalValue:      o.TotalValue.Amount().String(),
		Currency:        o.TotalValue.Currency(),
		Status:          o.Status,
		DeliveryAddress: o.DeliveryAddress,
		Payment:         o.Payment,
		Notes:           o.Notes,
		Version:         o.Version,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func (d orderDocument) toDomain() (*domain.Order, error) {
	order := &domain.Order{
		ID:              d.ID,
		OrderNumber:     d.OrderNumber,
		CustomerID:      d.CustomerID,
		CartID:          d.CartID,
		Items:           make([]domain.OrderItem, 0, len(d.Items)),
		Status:          d.Status,
		DeliveryAddress: d.DeliveryAddress,
		Payment:         d.Payment,
		Notes:           d.Notes,
		Version:         d.Version,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
	var err error
	if order.TotalValue, err = money.Parse(d.TotalValue, d.Currency); err != nil {
		return nil, fmt.Errorf("order %s total: %w", d.ID, err)
	}
	for _, it := range d.Items {
		item := domain.OrderItem{
			ID:          it.ID,
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
		}
		if item.UnitPrice, err = money.Parse(it.UnitPrice, d.Currency); err != nil {
			return nil, fmt.Errorf("order %s line %s: %w", d.ID, it.ProductID, err)
		}
		if item.Subtotal, err = money.Parse(it.Subtotal, d.Currency); err != nil {
			return nil, fmt.Errorf("order %s line %s: %w", d.ID, it.ProductID, err)
		}
		order.Items = append(order.Items, item)
	}
	return order, nil
}

func newOutboxDocument(ev OutboxEvent) outboxDocument {
	return outboxDocument{
		ID:          ev.ID,
		AggregateID: ev.AggregateID,
		EventType:   ev.EventType,
		Payload:     string(ev.Payload),
		CreatedAt:   ev.CreatedAt,
	}
}
