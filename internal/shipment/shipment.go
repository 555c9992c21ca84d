// Package shipment integrates with the external logistics provider. The
// dispatcher is treated as an unreliable remote service: calls are bounded by
// the client timeout, and a failed shipment never rolls back a paid order.
package shipment

import (
	"context"

	"github.com/shopspring/decimal"
)

// Item is one order line in a shipment request.
type Item struct {
	ProductID   string
	ProductName string
	SKU         string
	Quantity    int
	UnitPrice   decimal.Decimal
}

// OrderSnapshot is the frozen order data handed to the provider.
type OrderSnapshot struct {
	OrderID  string
	Items    []Item
	SubTotal decimal.Decimal
}

// Shipment identifies a created shipment at the provider.
type Shipment struct {
	ID      string
	OrderID string
}

// TrackingInfo is the provider's view of a shipment in transit.
type TrackingInfo struct {
	Status  string `json:"status"`
	Courier string `json:"courier"`
}

// Dispatcher is the logistics provider contract.
type Dispatcher interface {
	CreateShipment(ctx context.Context, snapshot OrderSnapshot) (Shipment, error)
	GenerateLabel(ctx context.Context, shipmentID string) (string, error)
	Track(ctx context.Context, shipmentID string) (TrackingInfo, error)
	Cancel(ctx context.Context, shipmentID string) error
}
