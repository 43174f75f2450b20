package orders

import (
	"context"
	"fmt"
	"sort"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// StockLine is the aggregated demand on one item within a checkout.
type StockLine struct {
	ItemID   int64
	Quantity int
}

// LockPlan folds order lines into one entry per item, sorted by item id
// ascending. Every checkout acquires item locks in this order, so two
// checkouts sharing items can never wait on each other in a cycle.
func LockPlan(items []OrderItem) []StockLine {
	byID := make(map[int64]int, len(items))
	for _, it := range items {
		byID[it.ItemID] += it.Quantity
	}
	out := make([]StockLine, 0, len(byID))
	for id, qty := range byID {
		out = append(out, StockLine{ItemID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out
}

type checkoutResult struct {
	order     Order
	noop      bool
	movements []StockMovement
	skipped   []int64
	// applied is set once every write of the attempt succeeded. An attempt
	// that fails with applied set failed at commit and may have committed.
	applied bool
}

// Checkout finalizes an order: it decrements stock for every line and records
// the payment method, all in one transaction. An order whose payment method is
// already set is returned unchanged, whichever method is passed. Transient
// storage failures are retried from the top; the payment guard keeps that safe.
func (s *Service) Checkout(ctx context.Context, orderID int64, paymentMethod string) (Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.Checkout", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.String("order.payment_method", paymentMethod),
	))
	defer span.End()

	var (
		res      checkoutResult
		unacked  *checkoutResult // last attempt whose commit outcome is unknown
		attempts int
	)
	op := func() error {
		attempts++
		var err error
		res, err = s.checkoutOnce(ctx, orderID, paymentMethod)
		if err == nil {
			return nil
		}
		if res.applied {
			r := res
			unacked = &r
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		s.log.Warn("checkout rolled back",
			zap.Int64("order_id", orderID),
			zap.Int("attempt", attempts),
			zap.Bool("commit_unacknowledged", res.applied),
			zap.Error(err))
		return err
	}
	if err := backoff.Retry(op, s.backOff(ctx)); err != nil {
		failSpan(span, err)
		if unacked != nil {
			// The order may be paid; drop any cached pre-checkout copy.
			s.invalidate(ctx, orderID)
		}
		return Order{}, fmt.Errorf("checkout order %d: %w", orderID, err)
	}
	span.SetAttributes(attribute.Int("checkout.attempts", attempts), attribute.Bool("checkout.noop", res.noop))

	s.invalidate(ctx, orderID)
	recovered := false
	if res.noop {
		if unacked == nil || *res.order.PaymentMethod != paymentMethod {
			s.log.Info("checkout skipped, order already paid",
				zap.Int64("order_id", orderID),
				zap.String("payment_method", *res.order.PaymentMethod),
				zap.String("requested_payment_method", paymentMethod))
			return res.order, nil
		}
		// An earlier attempt of this call committed but lost its ack.
		res.movements, res.skipped = unacked.movements, unacked.skipped
		recovered = true
	}

	s.log.Info("order checked out",
		zap.Int64("order_id", orderID),
		zap.String("payment_method", paymentMethod),
		zap.Int("items", len(res.movements)),
		zap.Int64s("skipped_items", res.skipped),
		zap.Bool("recovered", recovered))
	s.publish(ctx, TopicOrderCheckedOut, EventOrderCheckedOut, orderID, OrderCheckedOutPayload{
		OrderID:       orderID,
		PaymentMethod: paymentMethod,
		Movements:     res.movements,
		SkippedItems:  res.skipped,
		Recovered:     recovered,
	})
	return res.order, nil
}

func (s *Service) checkoutOnce(ctx context.Context, orderID int64, paymentMethod string) (checkoutResult, error) {
	var res checkoutResult
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Paid() {
			res.order, res.noop = o, true
			return nil
		}

		plan := LockPlan(o.Items)
		ids := make([]int64, len(plan))
		for i, l := range plan {
			ids[i] = l.ItemID
		}
		stock, err := tx.LockAndRead(ctx, ids)
		if err != nil {
			return err
		}
		for _, l := range plan {
			cur, ok := stock[l.ItemID]
			if !ok {
				res.skipped = append(res.skipped, l.ItemID)
				continue
			}
			if err := tx.Decrement(ctx, l.ItemID, l.Quantity); err != nil {
				return err
			}
			res.movements = append(res.movements, StockMovement{
				ItemID:    l.ItemID,
				Qty:       l.Quantity,
				Remaining: cur - l.Quantity,
			})
		}

		if err := tx.CompleteOrder(ctx, orderID, paymentMethod); err != nil {
			return err
		}
		if res.order, err = tx.GetOrder(ctx, orderID); err != nil {
			return err
		}
		res.applied = true
		return nil
	})
	if err != nil {
		return checkoutResult{
			movements: res.movements,
			skipped:   res.skipped,
			applied:   res.applied,
		}, err
	}
	return res, nil
}

func (s *Service) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.cfg.RetryBaseDelay
	eb.MaxInterval = 50 * s.cfg.RetryBaseDelay
	return backoff.WithContext(backoff.WithMaxRetries(eb, s.cfg.MaxRetries), ctx)
}
