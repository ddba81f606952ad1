package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/expo/pkg/enums/kitchenstatus"
	"github.com/appetiteclub/expo/services/kitchen/internal/kitchen"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	itemsCollection  = "kitchen_items"
	ordersCollection = "kitchen_orders"
)

// ItemRepo is a kitchen.ItemStore backed by MongoDB. Status changes use a
// single FindOneAndUpdate filtered on the expected status, so the database
// itself arbitrates concurrent transitions.
type ItemRepo struct {
	client     *mongo.Client
	db         *mongo.Database
	collection *mongo.Collection
	orders     *mongo.Collection
	logger     apt.Logger
	config     *apt.Config
}

func NewItemRepo(config *apt.Config, logger apt.Logger) *ItemRepo {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &ItemRepo{
		logger: logger,
		config: config,
	}
}

type itemDocument struct {
	ID           string     `bson:"_id"`
	OrderID      string     `bson:"order_id"`
	MenuItemID   string     `bson:"menu_item_id"`
	MenuItemName string     `bson:"menu_item_name"`
	Quantity     int        `bson:"quantity"`
	Station      string     `bson:"station"`
	Notes        string     `bson:"notes,omitempty"`
	Status       string     `bson:"status"`
	IsUrgent     bool       `bson:"is_urgent"`
	CreatedAt    time.Time  `bson:"created_at"`
	StartedAt    *time.Time `bson:"started_at,omitempty"`
	CompletedAt  *time.Time `bson:"completed_at,omitempty"`
}

func toDocument(item *kitchen.OrderTicketItem) itemDocument {
	return itemDocument{
		ID:           item.ID.String(),
		OrderID:      item.OrderID.String(),
		MenuItemID:   item.MenuItemID.String(),
		MenuItemName: item.MenuItemName,
		Quantity:     item.Quantity,
		Station:      item.Station,
		Notes:        item.Notes,
		Status:       item.Status.Code(),
		IsUrgent:     item.IsUrgent,
		CreatedAt:    item.CreatedAt.UTC(),
		StartedAt:    utcPtr(item.StartedAt),
		CompletedAt:  utcPtr(item.CompletedAt),
	}
}

func (d itemDocument) toItem() (*kitchen.OrderTicketItem, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid item id %q: %w", d.ID, err)
	}
	orderID, err := uuid.Parse(d.OrderID)
	if err != nil {
		return nil, fmt.Errorf("invalid order id %q: %w", d.OrderID, err)
	}
	menuItemID, err := uuid.Parse(d.MenuItemID)
	if err != nil {
		return nil, fmt.Errorf("invalid menu item id %q: %w", d.MenuItemID, err)
	}
	status := kitchenstatus.ByName(d.Status)
	if status == nil {
		return nil, fmt.Errorf("unknown status %q for item %s", d.Status, d.ID)
	}

	return &kitchen.OrderTicketItem{
		ID:           id,
		OrderID:      orderID,
		MenuItemID:   menuItemID,
		MenuItemName: d.MenuItemName,
		Quantity:     d.Quantity,
		Station:      d.Station,
		Notes:        d.Notes,
		Status:       *status,
		IsUrgent:     d.IsUrgent,
		CreatedAt:    d.CreatedAt,
		StartedAt:    d.StartedAt,
		CompletedAt:  d.CompletedAt,
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (r *ItemRepo) Start(ctx context.Context) error {
	mongoURL, _ := r.config.GetString("db.mongo.url")
	if mongoURL == "" {
		mongoURL = "mongodb://localhost:27017"
	}

	dbName, _ := r.config.GetString("db.mongo.name")
	if dbName == "" {
		dbName = "expo_kitchen"
	}

	clientOptions := options.Client().ApplyURI(mongoURL).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("cannot connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("cannot ping MongoDB: %w", err)
	}

	r.client = client
	r.db = client.Database(dbName)
	r.collection = r.db.Collection(itemsCollection)
	r.orders = r.db.Collection(ordersCollection)

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "station", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "order_id", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "completed_at", Value: -1}}},
	}
	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("cannot create item indexes: %w", err)
	}

	r.logger.Infof("Connected to MongoDB: %s, database: %s, collection: %s", mongoURL, dbName, itemsCollection)
	return nil
}

func (r *ItemRepo) GetDatabase() *mongo.Database {
	return r.db
}

func (r *ItemRepo) Stop(ctx context.Context) error {
	if r.client != nil {
		if err := r.client.Disconnect(ctx); err != nil {
			return fmt.Errorf("cannot disconnect from MongoDB: %w", err)
		}
		r.logger.Info("Disconnected from MongoDB")
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *ItemRepo) Ping(ctx context.Context) error {
	if r.client == nil {
		return errors.New("mongo item repo not started")
	}
	return r.client.Ping(ctx, nil)
}

func (r *ItemRepo) Create(ctx context.Context, item *kitchen.OrderTicketItem) error {
	if err := kitchen.ValidateNewItem(item); err != nil {
		return err
	}

	_, err := r.collection.InsertOne(ctx, toDocument(item))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return kitchen.ErrAlreadyExists
		}
		return fmt.Errorf("cannot insert item: %w", err)
	}
	return nil
}

func (r *ItemRepo) Get(ctx context.Context, id kitchen.ItemID) (*kitchen.OrderTicketItem, error) {
	var doc itemDocument
	err := r.collection.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, kitchen.ErrNotFound
		}
		return nil, fmt.Errorf("cannot find item: %w", err)
	}
	return doc.toItem()
}

// CompareAndSet applies the stamp for expected->next in one atomic update.
// A miss is disambiguated with a follow-up read: a missing document is
// ErrNotFound, anything else lost the race.
func (r *ItemRepo) CompareAndSet(ctx context.Context, id kitchen.ItemID, expected, next kitchen.Status, at time.Time) (*kitchen.OrderTicketItem, error) {
	stamp, err := kitchen.StampFor(expected, next)
	if err != nil {
		return nil, err
	}

	filter := bson.M{"_id": id.String(), "status": expected.Code()}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc itemDocument
	err = r.collection.FindOneAndUpdate(ctx, filter, stampUpdate(stamp, next, at.UTC()), opts).Decode(&doc)
	if err == nil {
		return doc.toItem()
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("cannot update item status: %w", err)
	}

	if _, getErr := r.Get(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, kitchen.ErrConflict
}

// stampUpdate translates a stamp into a Mongo update document.
func stampUpdate(stamp kitchen.Stamp, next kitchen.Status, at time.Time) bson.M {
	set := bson.M{"status": next.Code()}
	unset := bson.M{}

	if stamp.SetStarted {
		set["started_at"] = at
	}
	if stamp.SetCompleted {
		set["completed_at"] = at
	}
	if stamp.ClearCompleted {
		unset["completed_at"] = ""
	}
	if stamp.ClearUrgent {
		set["is_urgent"] = false
	}

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	return update
}

func (r *ItemRepo) SetUrgent(ctx context.Context, id kitchen.ItemID, urgent bool) (*kitchen.OrderTicketItem, error) {
	// A finished item never needs urgent attention.
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"is_urgent": bson.M{"$and": bson.A{
				urgent,
				bson.M{"$ne": bson.A{"$status", kitchenstatus.Statuses.Done.Code()}},
			}},
		}}},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc itemDocument
	err := r.collection.FindOneAndUpdate(ctx, bson.M{"_id": id.String()}, pipeline, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, kitchen.ErrNotFound
		}
		return nil, fmt.Errorf("cannot update urgent flag: %w", err)
	}
	return doc.toItem()
}

func (r *ItemRepo) List(ctx context.Context, filter kitchen.ItemFilter) ([]kitchen.OrderTicketItem, error) {
	query := listQuery(filter)

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("cannot find items: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []itemDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("cannot decode items: %w", err)
	}

	items := make([]kitchen.OrderTicketItem, 0, len(docs))
	for _, doc := range docs {
		item, err := doc.toItem()
		if err != nil {
			r.logger.Error("skipping unreadable item document", "item_id", doc.ID, "error", err)
			continue
		}
		items = append(items, *item)
	}
	return items, nil
}

func listQuery(filter kitchen.ItemFilter) bson.M {
	query := bson.M{}

	if filter.Station != "" {
		query["station"] = filter.Station
	}

	if filter.OrderID != nil {
		query["order_id"] = filter.OrderID.String()
	}

	switch {
	case filter.Status != nil && filter.ActiveOnly && !filter.Status.IsActive():
		query["status"] = bson.M{"$in": bson.A{}}
	case filter.Status != nil:
		query["status"] = filter.Status.Code()
	case filter.ActiveOnly:
		query["status"] = bson.M{"$in": bson.A{
			kitchenstatus.Statuses.Pending.Code(),
			kitchenstatus.Statuses.Cooking.Code(),
		}}
	}

	if filter.CompletedSince != nil {
		query["completed_at"] = bson.M{"$gte": filter.CompletedSince.UTC()}
	}

	return query
}

type orderDocument struct {
	ID            string    `bson:"_id"`
	DisplayNumber string    `bson:"display_number"`
	TableLabel    string    `bson:"table_label,omitempty"`
	StaffName     string    `bson:"staff_name,omitempty"`
	CreatedAt     time.Time `bson:"created_at"`
}

func toOrderDocument(info kitchen.OrderInfo) orderDocument {
	return orderDocument{
		ID:            info.OrderID.String(),
		DisplayNumber: info.DisplayNumber,
		TableLabel:    info.TableLabel,
		StaffName:     info.StaffName,
		CreatedAt:     info.CreatedAt.UTC(),
	}
}

func (d orderDocument) toOrderInfo() (kitchen.OrderInfo, error) {
	orderID, err := uuid.Parse(d.ID)
	if err != nil {
		return kitchen.OrderInfo{}, fmt.Errorf("invalid order id %q: %w", d.ID, err)
	}
	return kitchen.OrderInfo{
		OrderID:       orderID,
		DisplayNumber: d.DisplayNumber,
		TableLabel:    d.TableLabel,
		StaffName:     d.StaffName,
		CreatedAt:     d.CreatedAt,
	}, nil
}

// SaveOrder upserts the metadata of an order.
func (r *ItemRepo) SaveOrder(ctx context.Context, info kitchen.OrderInfo) error {
	doc := toOrderDocument(info)
	opts := options.Replace().SetUpsert(true)
	if _, err := r.orders.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, opts); err != nil {
		return fmt.Errorf("cannot save order: %w", err)
	}
	return nil
}

func (r *ItemRepo) DeleteOrder(ctx context.Context, orderID kitchen.OrderID) error {
	if _, err := r.orders.DeleteOne(ctx, bson.M{"_id": orderID.String()}); err != nil {
		return fmt.Errorf("cannot delete order: %w", err)
	}
	return nil
}

func (r *ItemRepo) ListOrders(ctx context.Context) ([]kitchen.OrderInfo, error) {
	cursor, err := r.orders.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("cannot find orders: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []orderDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("cannot decode orders: %w", err)
	}

	infos := make([]kitchen.OrderInfo, 0, len(docs))
	for _, doc := range docs {
		info, err := doc.toOrderInfo()
		if err != nil {
			r.logger.Error("skipping unreadable order document", "order_id", doc.ID, "error", err)
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}
