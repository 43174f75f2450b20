package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const DefaultPageSize = 100

type Config struct {
	// Name is stamped as producer on every published envelope.
	Name string
	// MaxRetries bounds checkout re-runs after a transient failure.
	MaxRetries uint64
	// RetryBaseDelay is the first backoff interval between checkout runs.
	RetryBaseDelay time.Duration
}

// Service owns the order lifecycle: creation, appends, checkout and status
// progression. It holds no locks between calls; all coordination happens in
// the store's transactions.
type Service struct {
	store  Store
	cache  Cache
	events Publisher
	log    *zap.Logger
	tracer trace.Tracer
	cfg    Config
}

// NewService wires the service. cache and events may be nil.
func NewService(store Store, cache Cache, events Publisher, log *zap.Logger, cfg Config) *Service {
	if cache == nil {
		cache = nopCache{}
	}
	if events == nil {
		events = nopPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "order-api"
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 20 * time.Millisecond
	}
	return &Service{
		store:  store,
		cache:  cache,
		events: events,
		log:    log,
		tracer: otel.Tracer("github.com/ariefcatur/go-pos-orders/internal/orders"),
		cfg:    cfg,
	}
}

// CreateOrder persists a pending order with its lines and option links in one
// transaction. Item and option ids are not checked against the catalog.
func (s *Service) CreateOrder(ctx context.Context, in NewOrder) (Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.CreateOrder",
		trace.WithAttributes(attribute.Int("order.lines", len(in.Items))))
	defer span.End()

	var out Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.InsertOrder(ctx, in.AgeGroup, in.Gender)
		if err != nil {
			return err
		}
		if err := tx.InsertItems(ctx, o.ID, in.Items); err != nil {
			return err
		}
		out, err = tx.GetOrder(ctx, o.ID)
		return err
	})
	if err != nil {
		failSpan(span, err)
		return Order{}, fmt.Errorf("create order: %w", err)
	}
	span.SetAttributes(attribute.Int64("order.id", out.ID))

	s.log.Info("order created", zap.Int64("order_id", out.ID), zap.Int("lines", len(out.Items)))
	s.publish(ctx, TopicOrderCreated, EventOrderCreated, out.ID, OrderCreatedPayload{
		OrderID:  out.ID,
		Items:    toLineQty(in.Items),
		AgeGroup: in.AgeGroup,
		Gender:   in.Gender,
	})
	return out, nil
}

// AddItems appends lines to an existing order. Appending after checkout is
// allowed and has no stock effect.
func (s *Service) AddItems(ctx context.Context, orderID int64, items []LineItem) (Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.AddItems",
		trace.WithAttributes(attribute.Int64("order.id", orderID), attribute.Int("order.lines", len(items))))
	defer span.End()

	var out Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		// Row lock keeps appends from interleaving with a checkout of the same order.
		if _, err := tx.LockOrder(ctx, orderID); err != nil {
			return err
		}
		if err := tx.InsertItems(ctx, orderID, items); err != nil {
			return err
		}
		var err error
		out, err = tx.GetOrder(ctx, orderID)
		return err
	})
	if err != nil {
		failSpan(span, err)
		return Order{}, fmt.Errorf("add items to order %d: %w", orderID, err)
	}
	s.invalidate(ctx, orderID)

	s.log.Info("order items added", zap.Int64("order_id", orderID), zap.Int("lines", len(items)))
	s.publish(ctx, TopicOrderItemsAdded, EventOrderItemsAdded, orderID, OrderItemsAddedPayload{
		OrderID: orderID,
		Items:   toLineQty(items),
	})
	return out, nil
}

// UpdateStatus stores any status label verbatim.
func (s *Service) UpdateStatus(ctx context.Context, orderID int64, status Status) (Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.UpdateStatus",
		trace.WithAttributes(attribute.Int64("order.id", orderID), attribute.String("order.status", string(status))))
	defer span.End()

	var out Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.SetStatus(ctx, orderID, status); err != nil {
			return err
		}
		var err error
		out, err = tx.GetOrder(ctx, orderID)
		return err
	})
	if err != nil {
		failSpan(span, err)
		return Order{}, fmt.Errorf("update status of order %d: %w", orderID, err)
	}
	s.invalidate(ctx, orderID)

	s.log.Info("order status updated",
		zap.Int64("order_id", orderID),
		zap.String("status", string(status)),
		zap.Stringer("status_kind", status.Kind()))
	s.publish(ctx, TopicOrderStatusChanged, EventOrderStatusChanged, orderID, OrderStatusChangedPayload{
		OrderID: orderID,
		Status:  string(status),
	})
	return out, nil
}

// GetOrder is cache-aside; the store stays the source of truth. Cached copies
// carry no catalog items, which are re-read on every hit so stock is current.
func (s *Service) GetOrder(ctx context.Context, orderID int64) (Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.GetOrder", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	if o, ok, err := s.cache.GetOrder(ctx, orderID); err != nil {
		s.log.Debug("order cache read failed", zap.Int64("order_id", orderID), zap.Error(err))
	} else if ok {
		if err := s.attachItems(ctx, &o); err != nil {
			failSpan(span, err)
			return Order{}, fmt.Errorf("get order %d: %w", orderID, err)
		}
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return o, nil
	}

	gen, genErr := s.cache.Generation(ctx, orderID)
	if genErr != nil {
		s.log.Debug("order cache generation read failed", zap.Int64("order_id", orderID), zap.Error(genErr))
	}
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		failSpan(span, err)
		return Order{}, fmt.Errorf("get order %d: %w", orderID, err)
	}
	if genErr == nil {
		if err := s.cache.SetOrder(ctx, withoutItems(o), gen); err != nil {
			s.log.Debug("order cache write failed", zap.Int64("order_id", orderID), zap.Error(err))
		}
	}
	return o, nil
}

// withoutItems copies o with the catalog item of every line dropped.
func withoutItems(o Order) Order {
	lines := make([]OrderItem, len(o.Items))
	copy(lines, o.Items)
	for i := range lines {
		lines[i].Item = nil
	}
	o.Items = lines
	return o
}

// attachItems resolves the catalog item of every line; dangling ids stay nil.
func (s *Service) attachItems(ctx context.Context, o *Order) error {
	seen := make(map[int64]*Item, len(o.Items))
	for i := range o.Items {
		id := o.Items[i].ItemID
		it, ok := seen[id]
		if !ok {
			got, err := s.store.GetItem(ctx, id)
			switch {
			case err == nil:
				got.Options = nil
				it = &got
			case errors.Is(err, ErrNotFound):
			default:
				return err
			}
			seen[id] = it
		}
		if it != nil {
			cp := *it
			o.Items[i].Item = &cp
		}
	}
	return nil
}

// ListOrders pages newest first. A non-positive limit means DefaultPageSize.
func (s *Service) ListOrders(ctx context.Context, offset, limit int) ([]Order, error) {
	offset, limit = page(offset, limit)
	out, err := s.store.ListOrders(ctx, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return out, nil
}

func (s *Service) ListItems(ctx context.Context, offset, limit int) ([]Item, error) {
	offset, limit = page(offset, limit)
	out, err := s.store.ListItems(ctx, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return out, nil
}

func page(offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	return offset, limit
}

func (s *Service) invalidate(ctx context.Context, orderID int64) {
	if err := s.cache.Invalidate(ctx, orderID); err != nil {
		s.log.Warn("order cache invalidate failed", zap.Int64("order_id", orderID), zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, topic, eventType string, orderID int64, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("encode event payload", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.cfg.Name,
		CorrelationID: string(PartitionKey(orderID)),
		Payload:       body,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	value, err := json.Marshal(env)
	if err != nil {
		s.log.Error("encode event envelope", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	s.events.Publish(topic, PartitionKey(orderID), value,
		kafka.Header{Key: HeaderEventType, Value: []byte(eventType)},
		kafka.Header{Key: HeaderEventVersion, Value: []byte("1")},
	)
}

func failSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
