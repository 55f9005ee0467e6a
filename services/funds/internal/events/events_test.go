package events

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestValidateReportsEveryField(t *testing.T) {
	err := Validate(&PaymentSuccessEvent{})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"paymentid is required", "userid is required", "amount is required"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q in %q", want, msg)
		}
	}
}

func TestValidateAcceptsOrderValidated(t *testing.T) {
	ev := &OrderValidatedEvent{
		OrderID:     "o-1",
		UserID:      "u-1",
		Symbol:      "RELIANCE",
		Side:        "BUY",
		Quantity:    decimal.NewFromInt(10),
		Price:       decimal.NewFromInt(30),
		TotalAmount: decimal.NewFromInt(300),
	}
	if err := Validate(ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ev.Side = "HOLD"
	if err := Validate(ev); err == nil {
		t.Fatalf("expected side validation error")
	}
}

func TestOrderValidatedDecodesNumbersAndStrings(t *testing.T) {
	for _, body := range []string{
		`{"order_id":"o-1","user_id":"u-1","symbol":"TCS","side":"SELL","quantity":2,"price":1500.5,"total_amount":3001.00}`,
		`{"order_id":"o-1","user_id":"u-1","symbol":"TCS","side":"SELL","quantity":"2","price":"1500.5","total_amount":"3001.00"}`,
	} {
		var ev OrderValidatedEvent
		if err := json.Unmarshal([]byte(body), &ev); err != nil {
			t.Fatalf("decode %s: %v", body, err)
		}
		if !ev.TotalAmount.Equal(decimal.NewFromInt(3001)) || !ev.Price.Equal(decimal.RequireFromString("1500.5")) {
			t.Fatalf("unexpected amounts total=%s price=%s", ev.TotalAmount, ev.Price)
		}
		if err := Validate(&ev); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}
}

func TestValidateRejectsZeroTotal(t *testing.T) {
	ev := &OrderValidatedEvent{OrderID: "o-1", UserID: "u-1", Symbol: "TCS", Side: "BUY", Quantity: decimal.NewFromInt(1)}
	err := Validate(ev)
	if err == nil || !strings.Contains(err.Error(), "totalamount is required") {
		t.Fatalf("expected total amount error, got %v", err)
	}
}

func TestRoutesFor(t *testing.T) {
	routes := DefaultRoutes()
	if err := routes.Validate(); err != nil {
		t.Fatalf("default routes invalid: %v", err)
	}
	route, err := routes.For(TypeOrderRejected)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if route.Exchange != "order.exchange" || route.RoutingKey != "order.rejected" {
		t.Fatalf("unexpected route %+v", route)
	}
	delete(routes, TypeFundsLocked)
	if err := routes.Validate(); err == nil {
		t.Fatalf("expected missing route error")
	}
}

func TestCorrelationIDRoundTrip(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), " corr-1 ")
	if got := CorrelationID(ctx); got != "corr-1" {
		t.Fatalf("expected trimmed correlation id, got %q", got)
	}
	if got := CorrelationID(context.Background()); got != "" {
		t.Fatalf("expected empty correlation id, got %q", got)
	}
}
