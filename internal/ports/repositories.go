package ports

import (
	"context"
	"time"
)

// UnitOfWork wraps a function in a DB transaction.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Observation is one payload seen on the monitoring stream.
type Observation struct {
	ObservedAt    time.Time
	Kind          string // "Order" | "Confirmation" | "Unrecognized"
	TeamName      string
	SupplierName  string
	EquipmentType string
	OrderNumber   int
	MessageID     string
	Payload       []byte
}

// Journal records monitoring observations.
type Journal interface {
	Record(ctx context.Context, obs Observation) error
}
