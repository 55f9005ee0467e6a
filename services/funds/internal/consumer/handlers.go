package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/IBM/sarama"
	"github.com/axshowk/winvestco-trading-platform-sub001/libs/kafka"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/events"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/ledger"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/service"
	"github.com/shopspring/decimal"
)

// Consumer names scope idempotency keys; one saga correlation id spans several events.
const (
	ConsumerOrderValidated = "order-validated"
	ConsumerOrderCancelled = "order-cancelled"
	ConsumerTradeFailed    = "trade-failed"
	ConsumerTradeExecuted  = "trade-executed"
	ConsumerPaymentSuccess = "payment-success"
	ConsumerUserCreated    = "user-created"
)

type LockManager interface {
	Lock(ctx context.Context, req service.LockRequest) (*ledger.FundsLock, error)
	Release(ctx context.Context, orderID, reason string) (*service.LockResult, error)
	Settle(ctx context.Context, orderID, reason string) (*service.LockResult, error)
	RejectOrder(ctx context.Context, orderID, userID string, cause error) error
}

type WalletProjector interface {
	CreateWallet(ctx context.Context, userID string) (*ledger.Wallet, bool, error)
	Credit(ctx context.Context, userID string, amount decimal.Decimal, referenceID, referenceType, description string) (*ledger.Entry, error)
}

type Guard interface {
	Run(ctx context.Context, consumer, correlationID string, fn func(ctx context.Context) error) (bool, error)
}

// Topics names the inbound topic for each saga event.
type Topics struct {
	OrderValidated string
	OrderCancelled string
	TradeFailed    string
	TradeExecuted  string
	PaymentSuccess string
	UserCreated    string
}

// Handlers are the stateless saga reactions. Each runs its effect inside the guard's
// unit of work so the effect, any compensating event and the processed mark commit
// together. Business rejections are detected before any write, which keeps the
// shared unit clean when a handler swallows them.
type Handlers struct {
	locks   LockManager
	wallets WalletProjector
	guard   Guard
	logger  *slog.Logger
	metrics *Metrics
}

func NewHandlers(locks LockManager, wallets WalletProjector, guard Guard, logger *slog.Logger, metrics *Metrics) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		locks:   locks,
		wallets: wallets,
		guard:   guard,
		logger:  logger,
		metrics: metrics,
	}
}

// Register binds every handler to its topic. Empty topics are skipped.
func (h *Handlers) Register(r *Router, topics Topics) {
	r.Handle(topics.OrderValidated, HandlerFunc(h.OrderValidated))
	r.Handle(topics.OrderCancelled, HandlerFunc(h.OrderCancelled))
	r.Handle(topics.TradeFailed, HandlerFunc(h.TradeFailed))
	r.Handle(topics.TradeExecuted, HandlerFunc(h.TradeExecuted))
	r.Handle(topics.PaymentSuccess, HandlerFunc(h.PaymentSuccess))
	r.Handle(topics.UserCreated, HandlerFunc(h.UserCreated))
}

func (h *Handlers) OrderValidated(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var event events.OrderValidatedEvent
	if err := decode(msg, &event, &event.Envelope); err != nil {
		return err
	}
	amount := event.TotalAmount
	if err := ledger.ValidateAmount(amount); err != nil {
		return kafka.DLQ(fmt.Errorf("total_amount: %w", err), "validation_failed")
	}
	if !event.Quantity.IsPositive() {
		return kafka.DLQ(fmt.Errorf("quantity must be positive"), "validation_failed")
	}

	return h.run(ctx, ConsumerOrderValidated, event.Envelope, func(ctx context.Context) error {
		_, err := h.locks.Lock(ctx, service.LockRequest{
			UserID:   event.UserID,
			OrderID:  event.OrderID,
			Amount:   amount,
			Symbol:   event.Symbol,
			Side:     strings.ToUpper(event.Side),
			Quantity: event.Quantity.String(),
			Price:    optionalDecimal(event.Price),
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ledger.ErrInsufficientFunds):
			h.metrics.incRejection(ConsumerOrderValidated, "insufficient_funds")
			h.logger.Info("order rejected for insufficient funds", "order_id", event.OrderID, "user_id", event.UserID, "error", err)
			return h.locks.RejectOrder(ctx, event.OrderID, event.UserID, err)
		case errors.Is(err, ledger.ErrDuplicateLock):
			h.metrics.incRejection(ConsumerOrderValidated, "duplicate_lock")
			h.logger.Info("funds already locked for order", "order_id", event.OrderID)
			return nil
		default:
			return err
		}
	})
}

func (h *Handlers) OrderCancelled(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var event events.OrderCancelledEvent
	if err := decode(msg, &event, &event.Envelope); err != nil {
		return err
	}
	return h.run(ctx, ConsumerOrderCancelled, event.Envelope, func(ctx context.Context) error {
		return h.release(ctx, ConsumerOrderCancelled, event.OrderID, "Order cancelled: "+event.CancelReason)
	})
}

func (h *Handlers) TradeFailed(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var event events.TradeFailedEvent
	if err := decode(msg, &event, &event.Envelope); err != nil {
		return err
	}
	return h.run(ctx, ConsumerTradeFailed, event.Envelope, func(ctx context.Context) error {
		return h.release(ctx, ConsumerTradeFailed, event.OrderID, "Trade failed: "+event.FailureReason)
	})
}

func (h *Handlers) TradeExecuted(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var event events.TradeExecutedEvent
	if err := decode(msg, &event, &event.Envelope); err != nil {
		return err
	}
	return h.run(ctx, ConsumerTradeExecuted, event.Envelope, func(ctx context.Context) error {
		res, err := h.locks.Settle(ctx, event.OrderID, "Trade executed: "+event.TradeID)
		return h.lockOutcome(ConsumerTradeExecuted, event.OrderID, res, err)
	})
}

func (h *Handlers) PaymentSuccess(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var event events.PaymentSuccessEvent
	if err := decode(msg, &event, &event.Envelope); err != nil {
		return err
	}
	amount := event.Amount
	if err := ledger.ValidateAmount(amount); err != nil {
		return kafka.DLQ(fmt.Errorf("amount: %w", err), "validation_failed")
	}

	description := "Deposit via " + event.PaymentMethod
	if d := strings.TrimSpace(event.Description); d != "" {
		description += " - " + d
	}
	return h.run(ctx, ConsumerPaymentSuccess, event.Envelope, func(ctx context.Context) error {
		_, err := h.wallets.Credit(ctx, event.UserID, amount, "PAYMENT-"+event.PaymentID, ledger.ReferencePayment, description)
		return err
	})
}

func (h *Handlers) UserCreated(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var event events.UserCreatedEvent
	if err := decode(msg, &event, &event.Envelope); err != nil {
		return err
	}
	return h.run(ctx, ConsumerUserCreated, event.Envelope, func(ctx context.Context) error {
		_, _, err := h.wallets.CreateWallet(ctx, event.UserID)
		return err
	})
}

func (h *Handlers) release(ctx context.Context, consumer, orderID, reason string) error {
	res, err := h.locks.Release(ctx, orderID, reason)
	return h.lockOutcome(consumer, orderID, res, err)
}

// lockOutcome maps a release or settle result onto the handler result. A missing
// lock is a business rejection and is not retried.
func (h *Handlers) lockOutcome(consumer, orderID string, res *service.LockResult, err error) error {
	if errors.Is(err, ledger.ErrLockNotFound) {
		h.metrics.incRejection(consumer, "lock_not_found")
		h.logger.Warn("no funds lock for order", "consumer", consumer, "order_id", orderID)
		return nil
	}
	if err != nil {
		return err
	}
	if res.Outcome == ledger.OutcomeConflict {
		h.metrics.incRejection(consumer, "lock_conflict")
	}
	return nil
}

func (h *Handlers) run(ctx context.Context, consumer string, env kafka.Envelope, fn func(ctx context.Context) error) error {
	key := env.IdempotencyKey()
	ctx = events.WithCorrelationID(ctx, key)

	applied, err := h.guard.Run(ctx, consumer, key, fn)
	if err != nil {
		h.logger.Error("event handling failed",
			"consumer", consumer,
			"event_id", env.EventID,
			"correlation_id", key,
			"error", err,
		)
		return err
	}
	if !applied {
		h.metrics.incDuplicate(consumer)
		h.logger.Info("duplicate event skipped", "consumer", consumer, "event_id", env.EventID, "correlation_id", key)
	}
	return nil
}

func optionalDecimal(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}

// decode unmarshals msg into event and validates it. Every failure is permanent.
func decode(msg *sarama.ConsumerMessage, event any, env *kafka.Envelope) error {
	if msg == nil || len(msg.Value) == 0 {
		return kafka.DLQ(fmt.Errorf("empty kafka message"), "decode_failed")
	}
	if err := json.Unmarshal(msg.Value, event); err != nil {
		return kafka.DLQ(fmt.Errorf("decode %s: %w", msg.Topic, err), "decode_failed")
	}
	if err := env.Validate(); err != nil {
		return kafka.DLQ(err, "invalid_envelope")
	}
	if err := events.Validate(event); err != nil {
		return kafka.DLQ(err, "validation_failed")
	}
	return nil
}
