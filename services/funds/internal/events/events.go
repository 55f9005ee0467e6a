package events

import (
	"context"
	"strings"

	"github.com/axshowk/winvestco-trading-platform-sub001/libs/kafka"
	"github.com/shopspring/decimal"
)

// Inbound event types.
const (
	TypeOrderValidated = "OrderValidated"
	TypeOrderCancelled = "OrderCancelled"
	TypeTradeFailed    = "TradeFailed"
	TypeTradeExecuted  = "TradeExecuted"
	TypePaymentSuccess = "PaymentSuccess"
	TypeUserCreated    = "UserCreated"
)

// Outbound event types.
const (
	TypeFundsLocked         = "FundsLocked"
	TypeFundsReleased       = "FundsReleased"
	TypeFundsSettled        = "FundsSettled"
	TypeFundsDeposited      = "FundsDeposited"
	TypeFundsWithdrawn      = "FundsWithdrawn"
	TypeOrderRejected       = "OrderRejected"
	TypeLedgerEntryRecorded = "LedgerEntryRecorded"
)

const Version = 1

// Aggregate types recorded on outbox rows.
const (
	AggregateWallet    = "Wallet"
	AggregateFundsLock = "FundsLock"
	AggregateOrder     = "Order"
	AggregateLedger    = "LedgerEntry"
)

type OrderValidatedEvent struct {
	kafka.Envelope
	OrderID     string          `json:"order_id" validate:"required"`
	UserID      string          `json:"user_id" validate:"required"`
	Symbol      string          `json:"symbol" validate:"required"`
	Side        string          `json:"side" validate:"required,oneof=BUY SELL buy sell"`
	OrderType   string          `json:"order_type"`
	Quantity    decimal.Decimal `json:"quantity" validate:"required"`
	Price       decimal.Decimal `json:"price"`
	TotalAmount decimal.Decimal `json:"total_amount" validate:"required"`
}

type OrderCancelledEvent struct {
	kafka.Envelope
	OrderID      string `json:"order_id" validate:"required"`
	UserID       string `json:"user_id"`
	CancelReason string `json:"cancel_reason"`
}

type TradeFailedEvent struct {
	kafka.Envelope
	TradeID       string `json:"trade_id"`
	OrderID       string `json:"order_id" validate:"required"`
	UserID        string `json:"user_id"`
	FailureReason string `json:"failure_reason"`
}

type TradeExecutedEvent struct {
	kafka.Envelope
	TradeID string `json:"trade_id" validate:"required"`
	OrderID string `json:"order_id" validate:"required"`
	UserID  string `json:"user_id"`
}

type PaymentSuccessEvent struct {
	kafka.Envelope
	PaymentID     string          `json:"payment_id" validate:"required"`
	UserID        string          `json:"user_id" validate:"required"`
	Amount        decimal.Decimal `json:"amount" validate:"required"`
	PaymentMethod string          `json:"payment_method"`
	Description   string          `json:"description"`
}

type UserCreatedEvent struct {
	kafka.Envelope
	UserID string `json:"user_id" validate:"required"`
	Email  string `json:"email" validate:"omitempty,email"`
}

type FundsLockedEvent struct {
	kafka.Envelope
	LockID    string `json:"lock_id"`
	WalletID  string `json:"wallet_id"`
	UserID    string `json:"user_id"`
	OrderID   string `json:"order_id"`
	Amount    string `json:"amount"`
	Available string `json:"available"`
	Locked    string `json:"locked"`
	Symbol    string `json:"symbol,omitempty"`
	Side      string `json:"side,omitempty"`
	Quantity  string `json:"quantity,omitempty"`
	Price     string `json:"price,omitempty"`
}

type FundsReleasedEvent struct {
	kafka.Envelope
	LockID    string `json:"lock_id"`
	WalletID  string `json:"wallet_id"`
	UserID    string `json:"user_id"`
	OrderID   string `json:"order_id"`
	Amount    string `json:"amount"`
	Reason    string `json:"reason"`
	Available string `json:"available"`
	Locked    string `json:"locked"`
}

type FundsSettledEvent struct {
	kafka.Envelope
	LockID   string `json:"lock_id"`
	WalletID string `json:"wallet_id"`
	UserID   string `json:"user_id"`
	OrderID  string `json:"order_id"`
	Amount   string `json:"amount"`
	Reason   string `json:"reason"`
}

type FundsMovedEvent struct {
	kafka.Envelope
	WalletID      string `json:"wallet_id"`
	UserID        string `json:"user_id"`
	Amount        string `json:"amount"`
	ReferenceID   string `json:"reference_id"`
	ReferenceType string `json:"reference_type"`
	Available     string `json:"available"`
	Locked        string `json:"locked"`
}

type OrderRejectedEvent struct {
	kafka.Envelope
	OrderID   string `json:"order_id"`
	UserID    string `json:"user_id"`
	Reason    string `json:"reason"`
	Requested string `json:"requested,omitempty"`
	Available string `json:"available,omitempty"`
}

type LedgerEntry struct {
	ID            string `json:"id"`
	WalletID      string `json:"wallet_id"`
	Sequence      int64  `json:"sequence"`
	EntryType     string `json:"entry_type"`
	Amount        string `json:"amount"`
	BalanceBefore string `json:"balance_before"`
	BalanceAfter  string `json:"balance_after"`
	ReferenceID   string `json:"reference_id,omitempty"`
	ReferenceType string `json:"reference_type,omitempty"`
	Description   string `json:"description,omitempty"`
	CreatedAt     string `json:"created_at"`
}

type LedgerEntryRecordedEvent struct {
	kafka.Envelope
	UserID string      `json:"user_id"`
	Entry  LedgerEntry `json:"entry"`
}

type correlationKey struct{}

// WithCorrelationID attaches the saga correlation id that outbound events will carry.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, strings.TrimSpace(id))
}

func CorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(correlationKey{}).(string); ok {
		return v
	}
	return ""
}
