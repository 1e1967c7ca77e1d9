package models

import "time"

// EventKind tags the payload carried by an MEvent
type EventKind string

const (
	EventPrice             EventKind = "price"
	EventBalance           EventKind = "balance"
	EventConnected         EventKind = "connected"
	EventDisconnected      EventKind = "disconnected"
	EventError             EventKind = "error"
	EventMaxRetriesReached EventKind = "maxRetriesReached"
	EventTransaction       EventKind = "transaction"
	EventStateChanged      EventKind = "stateChanged"
)

// -----------------------------------------------------------------------------

// MEvent is the single message type flowing through every event bus.
// Only the field matching Kind is populated.
type MEvent struct {
	Kind        EventKind           `json:"type"`
	Source      string              `json:"source"`
	Time        time.Time           `json:"time"`
	Tick        *MPriceTick         `json:"tick,omitempty"`
	Balance     *MAccountBalance    `json:"balance,omitempty"`
	Transaction *MLedgerTransaction `json:"transaction,omitempty"`
	State       ConnectionState     `json:"state"`
	Endpoint    *MNetworkEndpoint   `json:"endpoint,omitempty"`
	Err         error               `json:"-"`
	Message     string              `json:"message,omitempty"`
}

// -----------------------------------------------------------------------------

func PriceEvent(source string, tick MPriceTick) MEvent {
	return MEvent{Kind: EventPrice, Source: source, Time: time.Now(), Tick: &tick}
}

func BalanceEvent(source string, balance MAccountBalance) MEvent {
	return MEvent{Kind: EventBalance, Source: source, Time: time.Now(), Balance: &balance}
}

func TransactionEvent(source string, tx MLedgerTransaction) MEvent {
	return MEvent{Kind: EventTransaction, Source: source, Time: time.Now(), Transaction: &tx}
}

func StateEvent(kind EventKind, source string, state ConnectionState) MEvent {
	return MEvent{Kind: kind, Source: source, Time: time.Now(), State: state}
}

func ErrorEvent(source string, err error) MEvent {
	ev := MEvent{Kind: EventError, Source: source, Time: time.Now(), Err: err}
	if err != nil {
		ev.Message = err.Error()
	}
	return ev
}

func MaxRetriesEvent(source string, err error) MEvent {
	ev := ErrorEvent(source, err)
	ev.Kind = EventMaxRetriesReached
	return ev
}
