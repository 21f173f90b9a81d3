package sales

import (
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	EventTypeInitialized = "sale.initialized"
	EventTypeToppedUp    = "sale.topped_up"
	EventTypePurchased   = "sale.purchased"
)

// Event describes a committed sale operation.
type Event struct {
	ID         string           `json:"id"`
	Type       string           `json:"type"`
	Seed       solana.PublicKey `json:"seed"`
	Actor      solana.PublicKey `json:"actor"`
	Units      uint64           `json:"units"`
	RawUnits   uint64           `json:"raw_units"`
	Payment    uint64           `json:"payment,omitempty"`
	TotalUnits uint64           `json:"total_units"`
	UnitsSold  uint64           `json:"units_sold"`
	At         time.Time        `json:"at"`
}

func newEvent(typ string, rec *Record, actor solana.PublicKey, units, raw, payment uint64, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		Seed:       rec.Seed,
		Actor:      actor,
		Units:      units,
		RawUnits:   raw,
		Payment:    payment,
		TotalUnits: rec.TotalUnits,
		UnitsSold:  rec.UnitsSold,
		At:         at,
	}
}

// Emitter receives events after their operation has been committed.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards events.
type NoopEmitter struct{}

func (NoopEmitter) Emit(Event) {}

// MultiEmitter fans an event out to every emitter in order.
type MultiEmitter []Emitter

func (m MultiEmitter) Emit(evt Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(evt)
		}
	}
}

// LogEmitter writes events to a zap logger.
type LogEmitter struct {
	Logger *zap.Logger
}

func (l LogEmitter) Emit(evt Event) {
	if l.Logger == nil {
		return
	}
	l.Logger.Info("sale event",
		zap.String("event_id", evt.ID),
		zap.String("type", evt.Type),
		zap.Stringer("seed", evt.Seed),
		zap.Stringer("actor", evt.Actor),
		zap.Uint64("units", evt.Units),
		zap.Uint64("raw_units", evt.RawUnits),
		zap.Uint64("payment", evt.Payment),
		zap.Uint64("total_units", evt.TotalUnits),
		zap.Uint64("units_sold", evt.UnitsSold),
	)
}
