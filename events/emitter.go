package events

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// EventType labels what happened.
type EventType string

const (
	EventBlockCommit       EventType = "block_commit"
	EventTxExecuted        EventType = "tx_executed"
	EventTxRejected        EventType = "tx_rejected"
	EventLedgerInitialized EventType = "ledger_initialized"
	EventUserCreated       EventType = "user_created"
	EventLotteryCreated    EventType = "lottery_created"
	EventTicketBought      EventType = "ticket_bought"
	EventLotterySettled    EventType = "lottery_settled"
	EventAssetDeleted      EventType = "asset_deleted"
)

// Event carries a typed payload emitted after a state change.
type Event struct {
	Type        EventType      `json:"type"`
	TxID        string         `json:"tx_id"`
	BlockHeight int64          `json:"block_height"`
	Data        map[string]any `json:"data"`
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewEmitter creates an Emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[EventType][]Handler)}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// Emit delivers ev to all subscribers for ev.Type synchronously.
// Each handler is guarded by panic recovery so a misbehaving subscriber
// cannot take down the sequencer.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := e.handlers[ev.Type]
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(log.Fields{
						"component": "events",
						"event":     ev.Type,
						"tx_id":     ev.TxID,
					}).Errorf("handler panicked: %v", r)
				}
			}()
			h(ev)
		}()
	}
}
