package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/axshowk/winvestco-trading-platform-sub001/libs/kafka"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/events"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/idempotency"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/ledger"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/outbox"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/service"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/storage"
	"github.com/shopspring/decimal"
)

var testTopics = Topics{
	OrderValidated: "order.validated",
	OrderCancelled: "order.cancelled",
	TradeFailed:    "trade.failed",
	TradeExecuted:  "trade.executed",
	PaymentSuccess: "payment.success",
	UserCreated:    "user.created",
}

type harness struct {
	store   *storage.MemoryStore
	wallets *service.WalletService
	locks   *service.FundsLockService
	ledger  *service.LedgerService
	router  *Router
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := storage.NewMemory()
	writer := outbox.NewWriter(events.DefaultRoutes())
	ledgerSvc := service.NewLedgerService(store, writer, nil, nil)
	wallets := service.NewWalletService(store, ledgerSvc, writer, nil, "", nil, nil)
	locks := service.NewFundsLockService(store, wallets, writer, nil, nil)
	guard := idempotency.NewGuard(store, nil)

	router := NewRouter(nil, nil)
	NewHandlers(locks, wallets, guard, nil, nil).Register(router, testTopics)
	return &harness{store: store, wallets: wallets, locks: locks, ledger: ledgerSvc, router: router}
}

func envelope(eventType, correlationID string) kafka.Envelope {
	return kafka.Envelope{
		EventID:       kafka.DeterministicEventID(eventType, correlationID, time.Now().String()),
		EventType:     eventType,
		EventVersion:  events.Version,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
	}
}

func message(t *testing.T, topic string, event any) *sarama.ConsumerMessage {
	t.Helper()
	raw, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return &sarama.ConsumerMessage{Topic: topic, Value: raw}
}

func (h *harness) deliver(t *testing.T, msg *sarama.ConsumerMessage) {
	t.Helper()
	if err := h.router.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("handle %s: %v", msg.Topic, err)
	}
}

func (h *harness) fund(t *testing.T, userID, amount string) {
	t.Helper()
	ctx := context.Background()
	if _, _, err := h.wallets.CreateWallet(ctx, userID); err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if _, err := h.wallets.Credit(ctx, userID, decimal.RequireFromString(amount), "PAYMENT-seed", ledger.ReferencePayment, "seed"); err != nil {
		t.Fatalf("seed credit: %v", err)
	}
}

func (h *harness) balances(t *testing.T, userID string) (string, string) {
	t.Helper()
	w, err := h.wallets.GetWallet(context.Background(), userID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	return ledger.Format(w.AvailableBalance), ledger.Format(w.LockedBalance)
}

func (h *harness) entryCount(t *testing.T, userID string) int64 {
	t.Helper()
	w, err := h.wallets.GetWallet(context.Background(), userID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	n, err := h.ledger.CountEntries(context.Background(), w.ID)
	if err != nil {
		t.Fatalf("count entries: %v", err)
	}
	return n
}

func (h *harness) outboxCount(eventType string) int {
	n := 0
	for _, row := range h.store.Outbox() {
		if row.EventType == eventType {
			n++
		}
	}
	return n
}

func orderValidated(correlationID, orderID, userID, amount string) events.OrderValidatedEvent {
	return events.OrderValidatedEvent{
		Envelope:    envelope(events.TypeOrderValidated, correlationID),
		OrderID:     orderID,
		UserID:      userID,
		Symbol:      "RELIANCE",
		Side:        "BUY",
		Quantity:    decimal.NewFromInt(10),
		Price:       decimal.NewFromInt(100),
		TotalAmount: decimal.RequireFromString(amount),
	}
}

func TestOrderValidatedLocksFunds(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "user-1", "10000")

	h.deliver(t, message(t, testTopics.OrderValidated, orderValidated("saga-1", "order-1", "user-1", "2500")))

	available, locked := h.balances(t, "user-1")
	if available != "7500.0000" || locked != "2500.0000" {
		t.Fatalf("unexpected balances available=%s locked=%s", available, locked)
	}
	lock, err := h.locks.GetLockByOrderID(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("get lock: %v", err)
	}
	if lock.Status != ledger.LockLocked || lock.Reason != service.DefaultLockReason {
		t.Fatalf("unexpected lock %+v", lock)
	}
	if h.outboxCount(events.TypeFundsLocked) != 1 {
		t.Fatalf("expected one FundsLocked event")
	}
}

func TestOrderValidatedInsufficientFundsRejectsOrderOnce(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "user-1", "100")
	msg := message(t, testTopics.OrderValidated, orderValidated("saga-1", "order-1", "user-1", "500"))

	h.deliver(t, msg)
	h.deliver(t, msg)

	if h.outboxCount(events.TypeOrderRejected) != 1 {
		t.Fatalf("expected one OrderRejected event, got %d", h.outboxCount(events.TypeOrderRejected))
	}
	if _, err := h.locks.GetLockByOrderID(context.Background(), "order-1"); !errors.Is(err, ledger.ErrLockNotFound) {
		t.Fatalf("expected no lock, got %v", err)
	}
	available, locked := h.balances(t, "user-1")
	if available != "100.0000" || locked != "0.0000" {
		t.Fatalf("balances changed: available=%s locked=%s", available, locked)
	}

	var rejected events.OrderRejectedEvent
	for _, row := range h.store.Outbox() {
		if row.EventType == events.TypeOrderRejected {
			if err := json.Unmarshal(row.Payload, &rejected); err != nil {
				t.Fatalf("decode payload: %v", err)
			}
		}
	}
	if rejected.Reason != "Insufficient funds: requested 500.00, available 100.00" {
		t.Fatalf("unexpected reason %q", rejected.Reason)
	}
	if rejected.CorrelationID != "saga-1" {
		t.Fatalf("expected correlation id saga-1, got %q", rejected.CorrelationID)
	}
}

func TestOrderValidatedDuplicateLockIsHandled(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "user-1", "1000")

	h.deliver(t, message(t, testTopics.OrderValidated, orderValidated("saga-1", "order-1", "user-1", "200")))
	h.deliver(t, message(t, testTopics.OrderValidated, orderValidated("saga-2", "order-1", "user-1", "200")))

	available, locked := h.balances(t, "user-1")
	if available != "800.0000" || locked != "200.0000" {
		t.Fatalf("unexpected balances available=%s locked=%s", available, locked)
	}
	if h.outboxCount(events.TypeFundsLocked) != 1 || h.outboxCount(events.TypeOrderRejected) != 0 {
		t.Fatalf("unexpected outbox contents")
	}
}

func TestOrderCancelledDuplicateDeliveryReleasesOnce(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "user-1", "10000")
	h.deliver(t, message(t, testTopics.OrderValidated, orderValidated("saga-1", "order-1", "user-1", "2500")))
	before := h.entryCount(t, "user-1")

	cancelled := message(t, testTopics.OrderCancelled, events.OrderCancelledEvent{
		Envelope:     envelope(events.TypeOrderCancelled, "saga-1"),
		OrderID:      "order-1",
		UserID:       "user-1",
		CancelReason: "user request",
	})
	h.deliver(t, cancelled)
	h.deliver(t, cancelled)

	if got := h.entryCount(t, "user-1"); got != before+1 {
		t.Fatalf("expected exactly one release entry, entries went %d -> %d", before, got)
	}
	available, locked := h.balances(t, "user-1")
	if available != "10000.0000" || locked != "0.0000" {
		t.Fatalf("unexpected balances available=%s locked=%s", available, locked)
	}
	lock, err := h.locks.GetLockByOrderID(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("get lock: %v", err)
	}
	if lock.Status != ledger.LockReleased || lock.Reason != "Order cancelled: user request" {
		t.Fatalf("unexpected lock %+v", lock)
	}
	if h.outboxCount(events.TypeFundsReleased) != 1 {
		t.Fatalf("expected one FundsReleased event")
	}
}

func TestTradeFailedReleasesLock(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "user-1", "1000")
	h.deliver(t, message(t, testTopics.OrderValidated, orderValidated("saga-1", "order-1", "user-1", "300")))

	h.deliver(t, message(t, testTopics.TradeFailed, events.TradeFailedEvent{
		Envelope:      envelope(events.TypeTradeFailed, "saga-1"),
		TradeID:       "trade-1",
		OrderID:       "order-1",
		FailureReason: "exchange timeout",
	}))

	lock, err := h.locks.GetLockByOrderID(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("get lock: %v", err)
	}
	if lock.Status != ledger.LockReleased || lock.Reason != "Trade failed: exchange timeout" {
		t.Fatalf("unexpected lock %+v", lock)
	}
	available, locked := h.balances(t, "user-1")
	if available != "1000.0000" || locked != "0.0000" {
		t.Fatalf("unexpected balances available=%s locked=%s", available, locked)
	}
}

func TestTradeExecutedSettlesLock(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "user-1", "1000")
	h.deliver(t, message(t, testTopics.OrderValidated, orderValidated("saga-1", "order-1", "user-1", "300")))

	h.deliver(t, message(t, testTopics.TradeExecuted, events.TradeExecutedEvent{
		Envelope: envelope(events.TypeTradeExecuted, "saga-1"),
		TradeID:  "trade-1",
		OrderID:  "order-1",
	}))

	available, locked := h.balances(t, "user-1")
	if available != "700.0000" || locked != "0.0000" {
		t.Fatalf("unexpected balances available=%s locked=%s", available, locked)
	}
	if h.outboxCount(events.TypeFundsSettled) != 1 {
		t.Fatalf("expected one FundsSettled event")
	}

	// A late cancel against a settled lock is a handled conflict.
	h.deliver(t, message(t, testTopics.OrderCancelled, events.OrderCancelledEvent{
		Envelope: envelope(events.TypeOrderCancelled, "saga-1"),
		OrderID:  "order-1",
	}))
	available, locked = h.balances(t, "user-1")
	if available != "700.0000" || locked != "0.0000" {
		t.Fatalf("conflict changed balances: available=%s locked=%s", available, locked)
	}
	if h.outboxCount(events.TypeFundsReleased) != 0 {
		t.Fatalf("conflict must not emit FundsReleased")
	}
}

func TestOrderCancelledWithoutLockIsHandled(t *testing.T) {
	h := newHarness(t)
	err := h.router.HandleMessage(context.Background(), message(t, testTopics.OrderCancelled, events.OrderCancelledEvent{
		Envelope: envelope(events.TypeOrderCancelled, "saga-404"),
		OrderID:  "missing",
	}))
	if err != nil {
		t.Fatalf("expected missing lock to be handled, got %v", err)
	}
	if len(h.store.Outbox()) != 0 {
		t.Fatalf("expected no outbound events")
	}
}

func TestPaymentSuccessCreditsWallet(t *testing.T) {
	h := newHarness(t)
	if _, _, err := h.wallets.CreateWallet(context.Background(), "user-1"); err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	msg := message(t, testTopics.PaymentSuccess, events.PaymentSuccessEvent{
		Envelope:      envelope(events.TypePaymentSuccess, "pay-saga-1"),
		PaymentID:     "pay-1",
		UserID:        "user-1",
		Amount:        decimal.RequireFromString("750.50"),
		PaymentMethod: "UPI",
		Description:   "salary",
	})
	h.deliver(t, msg)
	h.deliver(t, msg)

	available, _ := h.balances(t, "user-1")
	if available != "750.5000" {
		t.Fatalf("expected single credit, available=%s", available)
	}
	entries, err := h.ledger.EntriesByReferenceID(context.Background(), "PAYMENT-pay-1")
	if err != nil {
		t.Fatalf("entries by reference: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	if entries[0].Description != "Deposit via UPI - salary" || entries[0].ReferenceType != ledger.ReferencePayment {
		t.Fatalf("unexpected entry %+v", entries[0])
	}
}

func TestPaymentSuccessWithoutWalletIsRetried(t *testing.T) {
	h := newHarness(t)
	msg := message(t, testTopics.PaymentSuccess, events.PaymentSuccessEvent{
		Envelope:      envelope(events.TypePaymentSuccess, "pay-saga-1"),
		PaymentID:     "pay-1",
		UserID:        "user-1",
		Amount:        decimal.NewFromInt(100),
		PaymentMethod: "CARD",
	})

	err := h.router.HandleMessage(context.Background(), msg)
	if !errors.Is(err, ledger.ErrWalletNotFound) || kafka.IsDLQ(err) {
		t.Fatalf("expected retryable wallet not found, got %v", err)
	}

	h.deliver(t, message(t, testTopics.UserCreated, events.UserCreatedEvent{
		Envelope: envelope(events.TypeUserCreated, "user-saga-1"),
		UserID:   "user-1",
		Email:    "user@example.com",
	}))
	h.deliver(t, msg)

	available, _ := h.balances(t, "user-1")
	if available != "100.0000" {
		t.Fatalf("expected credit after retry, available=%s", available)
	}
}

func TestUserCreatedIsIdempotent(t *testing.T) {
	h := newHarness(t)
	msg := message(t, testTopics.UserCreated, events.UserCreatedEvent{
		Envelope: envelope(events.TypeUserCreated, "user-saga-1"),
		UserID:   "user-1",
	})
	h.deliver(t, msg)
	h.deliver(t, msg)

	w, err := h.wallets.GetWallet(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if w.Currency != service.DefaultCurrency {
		t.Fatalf("unexpected currency %q", w.Currency)
	}
}

func TestOrderValidatedAcceptsNumericAmounts(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "user-1", "1000")

	env, err := json.Marshal(envelope(events.TypeOrderValidated, "saga-1"))
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	body := string(env[:len(env)-1]) + `,"order_id":"order-1","user_id":"user-1","symbol":"RELIANCE","side":"BUY",` +
		`"order_type":"LIMIT","quantity":3,"price":100,"total_amount":300.00}`
	h.deliver(t, &sarama.ConsumerMessage{Topic: testTopics.OrderValidated, Value: []byte(body)})

	available, locked := h.balances(t, "user-1")
	if available != "700.0000" || locked != "300.0000" {
		t.Fatalf("unexpected balances available=%s locked=%s", available, locked)
	}
}

func TestPaymentSuccessAcceptsNumericAmount(t *testing.T) {
	h := newHarness(t)
	if _, _, err := h.wallets.CreateWallet(context.Background(), "user-1"); err != nil {
		t.Fatalf("create wallet: %v", err)
	}

	env, err := json.Marshal(envelope(events.TypePaymentSuccess, "pay-1"))
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	body := string(env[:len(env)-1]) + `,"payment_id":"p-1","user_id":"user-1","amount":250.25,"payment_method":"UPI"}`
	h.deliver(t, &sarama.ConsumerMessage{Topic: testTopics.PaymentSuccess, Value: []byte(body)})

	available, _ := h.balances(t, "user-1")
	if available != "250.2500" {
		t.Fatalf("unexpected available balance %s", available)
	}
}

func TestPermanentFailuresAreDeadLettered(t *testing.T) {
	h := newHarness(t)
	cases := []struct {
		name   string
		msg    *sarama.ConsumerMessage
		reason string
	}{
		{
			name:   "empty body",
			msg:    &sarama.ConsumerMessage{Topic: testTopics.OrderValidated},
			reason: "decode_failed",
		},
		{
			name:   "malformed json",
			msg:    &sarama.ConsumerMessage{Topic: testTopics.OrderCancelled, Value: []byte("{not json")},
			reason: "decode_failed",
		},
		{
			name: "missing envelope",
			msg: message(t, testTopics.UserCreated, events.UserCreatedEvent{
				UserID: "user-1",
			}),
			reason: "invalid_envelope",
		},
		{
			name: "missing order id",
			msg: message(t, testTopics.OrderCancelled, events.OrderCancelledEvent{
				Envelope: envelope(events.TypeOrderCancelled, "saga-1"),
			}),
			reason: "validation_failed",
		},
		{
			name:   "non positive amount",
			msg:    message(t, testTopics.OrderValidated, orderValidated("saga-1", "order-1", "user-1", "0")),
			reason: "validation_failed",
		},
		{
			name: "too many fractional digits",
			msg: message(t, testTopics.PaymentSuccess, events.PaymentSuccessEvent{
				Envelope:  envelope(events.TypePaymentSuccess, "pay-9"),
				PaymentID: "p-9",
				UserID:    "user-1",
				Amount:    decimal.RequireFromString("1.00005"),
			}),
			reason: "validation_failed",
		},
		{
			name:   "unknown topic",
			msg:    &sarama.ConsumerMessage{Topic: "nope", Value: []byte("{}")},
			reason: "unknown_topic",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := h.router.HandleMessage(context.Background(), tc.msg)
			var dlqErr *kafka.DLQError
			if !errors.As(err, &dlqErr) {
				t.Fatalf("expected dlq error, got %v", err)
			}
			if dlqErr.Reason != tc.reason {
				t.Fatalf("expected reason %q, got %q", tc.reason, dlqErr.Reason)
			}
		})
	}
}

func TestRouterTopicsSorted(t *testing.T) {
	h := newHarness(t)
	topics := h.router.Topics()
	if len(topics) != 6 {
		t.Fatalf("expected 6 topics, got %v", topics)
	}
	for i := 1; i < len(topics); i++ {
		if topics[i-1] > topics[i] {
			t.Fatalf("topics not sorted: %v", topics)
		}
	}
}
