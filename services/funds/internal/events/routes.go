package events

import "fmt"

// Route is the exchange and routing key an outbound event type is captured under.
type Route struct {
	Exchange   string `mapstructure:"exchange"`
	RoutingKey string `mapstructure:"routing_key"`
}

// Routes maps each outbound event type to its destination.
type Routes map[string]Route

func DefaultRoutes() Routes {
	return Routes{
		TypeFundsLocked:         {Exchange: "funds.exchange", RoutingKey: "funds.locked"},
		TypeFundsReleased:       {Exchange: "funds.exchange", RoutingKey: "funds.released"},
		TypeFundsSettled:        {Exchange: "funds.exchange", RoutingKey: "funds.settled"},
		TypeFundsDeposited:      {Exchange: "funds.exchange", RoutingKey: "funds.deposited"},
		TypeFundsWithdrawn:      {Exchange: "funds.exchange", RoutingKey: "funds.withdrawn"},
		TypeOrderRejected:       {Exchange: "order.exchange", RoutingKey: "order.rejected"},
		TypeLedgerEntryRecorded: {Exchange: "ledger.exchange", RoutingKey: "ledger.entry.recorded"},
	}
}

func (r Routes) For(eventType string) (Route, error) {
	route, ok := r[eventType]
	if !ok || route.RoutingKey == "" {
		return Route{}, fmt.Errorf("no route configured for event type %s", eventType)
	}
	return route, nil
}

func (r Routes) Validate() error {
	for eventType := range DefaultRoutes() {
		if _, err := r.For(eventType); err != nil {
			return err
		}
	}
	return nil
}
