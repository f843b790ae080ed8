package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tolelom/lottochain/crypto"
)

// TxType identifies the ledger operation a transaction performs.
type TxType string

const (
	TxInitLedger       TxType = "InitLedger"
	TxCreateLottery    TxType = "CreateLottery"
	TxCreateUser       TxType = "CreateUser"
	TxBuyLotteryTicket TxType = "BuyLotteryTicket"
	TxDeleteUser       TxType = "DeleteUser"
	TxDeleteLottery    TxType = "DeleteLottery"
)

// Transaction is one operation submitted by the host. Timestamp only feeds
// the transaction ID; it never reaches the state machine.
type Transaction struct {
	ID        string          `json:"id"`
	Type      TxType          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// hashBody holds the fields covered by the transaction ID.
type hashBody struct {
	Type      TxType          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Hash returns a deterministic hash of the transaction (sans ID).
// Returns an empty string if marshalling fails (which cannot happen in practice).
func (tx *Transaction) Hash() string {
	data, err := json.Marshal(hashBody{Type: tx.Type, Timestamp: tx.Timestamp, Payload: tx.Payload})
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Validate checks the envelope, not the operation.
func (tx *Transaction) Validate() error {
	if tx.Type == "" {
		return errors.New("missing tx type")
	}
	if len(tx.Payload) == 0 {
		return errors.New("missing payload")
	}
	if tx.ID != "" && tx.ID != tx.Hash() {
		return fmt.Errorf("tx id %s does not match its contents", tx.ID)
	}
	return nil
}

// NewTransaction creates a transaction with the current timestamp and its ID set.
func NewTransaction(typ TxType, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	tx := &Transaction{
		Type:      typ,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}
	tx.ID = tx.Hash()
	return tx, nil
}

// ---- Payload types ----
// Numeric arguments travel as text and are parsed by the engine.

// InitLedgerPayload takes no arguments.
type InitLedgerPayload struct{}

// CreateLotteryPayload opens a new lottery.
type CreateLotteryPayload struct {
	Name                 string `json:"name"`
	RequiredParticipants string `json:"requiredParticipants"`
}

// CreateUserPayload registers a user with an opening balance.
type CreateUserPayload struct {
	Name    string `json:"name"`
	Balance string `json:"balance"`
}

// BuyLotteryTicketPayload deposits Amount from UserID into LotteryID.
type BuyLotteryTicketPayload struct {
	LotteryID string `json:"lotteryId"`
	UserID    string `json:"userId"`
	Amount    string `json:"amount"`
}

// DeletePayload names the record to remove.
type DeletePayload struct {
	ID string `json:"id"`
}
