package core

import (
	"encoding/json"
	"fmt"
)

var (
	userFields    = []string{"id", "name", "balance"}
	lotteryFields = []string{
		"id", "name", "balance", "numberOfParticipants", "participants",
		"balanceAfterEachPayment", "requiredParticipants", "winner",
	}
)

// EncodeUser serializes u in its stored form.
func EncodeUser(u *UserAccount) ([]byte, error) {
	return json.Marshal(u)
}

// DecodeUser parses a stored user record. Every field is required.
func DecodeUser(data []byte) (*UserAccount, error) {
	if err := requireFields(data, userFields); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	var u UserAccount
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return &u, nil
}

// EncodeLottery serializes l in its stored form. Empty sequences are written
// as [] rather than null.
func EncodeLottery(l *LotteryPool) ([]byte, error) {
	cp := *l
	if cp.Participants == nil {
		cp.Participants = []string{}
	}
	if cp.BalanceAfterEachPayment == nil {
		cp.BalanceAfterEachPayment = []int64{}
	}
	return json.Marshal(&cp)
}

// DecodeLottery parses a stored lottery record and checks that its parallel
// sequences agree with the participant count.
func DecodeLottery(data []byte) (*LotteryPool, error) {
	if err := requireFields(data, lotteryFields); err != nil {
		return nil, fmt.Errorf("decode lottery: %w", err)
	}
	var l LotteryPool
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("decode lottery: %w", err)
	}
	if len(l.Participants) != l.NumberOfParticipants || len(l.BalanceAfterEachPayment) != l.NumberOfParticipants {
		return nil, fmt.Errorf("decode lottery %q: %d participants, %d payments, count %d",
			l.ID, len(l.Participants), len(l.BalanceAfterEachPayment), l.NumberOfParticipants)
	}
	if l.Participants == nil {
		l.Participants = []string{}
	}
	if l.BalanceAfterEachPayment == nil {
		l.BalanceAfterEachPayment = []int64{}
	}
	return &l, nil
}

func requireFields(data []byte, fields []string) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	for _, f := range fields {
		if _, ok := m[f]; !ok {
			return fmt.Errorf("missing field %q", f)
		}
	}
	return nil
}
