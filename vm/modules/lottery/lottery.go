// Package lottery implements the weighted-lottery ledger operations: ledger
// initialisation, user and lottery creation, ticket purchase with settlement,
// and guarded deletes.
package lottery

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/tolelom/lottochain/assets"
	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/events"
	"github.com/tolelom/lottochain/vm"
)

func init() {
	for _, op := range []vm.Operation{
		{Type: core.TxInitLedger, Params: func() any { return &core.InitLedgerPayload{} }, Handle: handleInitLedger},
		{Type: core.TxCreateLottery, Params: func() any { return &core.CreateLotteryPayload{} }, Handle: handleCreateLottery},
		{Type: core.TxCreateUser, Params: func() any { return &core.CreateUserPayload{} }, Handle: handleCreateUser},
		{Type: core.TxBuyLotteryTicket, Params: func() any { return &core.BuyLotteryTicketPayload{} }, Handle: handleBuyLotteryTicket},
		{Type: core.TxDeleteUser, Params: func() any { return &core.DeletePayload{} }, Handle: handleDeleteUser},
		{Type: core.TxDeleteLottery, Params: func() any { return &core.DeletePayload{} }, Handle: handleDeleteLottery},
	} {
		vm.Register(op)
	}
}

func decode(payload json.RawMessage, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, core.ErrValidation)
	}
	return nil
}

// parseAmount parses a base-10 integer argument.
func parseAmount(field, text string) (int64, error) {
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s %q is not an integer: %w", field, text, core.ErrValidation)
	}
	return v, nil
}

func handleCreateLottery(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CreateLotteryPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	required, err := parseAmount("requiredParticipants", p.RequiredParticipants)
	if err != nil {
		return err
	}
	if required <= 1 {
		return fmt.Errorf("lottery requires more than 1 participant, got %d: %w", required, core.ErrValidation)
	}
	if required > math.MaxInt32 {
		return fmt.Errorf("requiredParticipants %d too large: %w", required, core.ErrValidation)
	}

	id, err := assets.NewAllocator(ctx.State).NextLotteryID()
	if err != nil {
		return err
	}
	l := &core.LotteryPool{
		ID:                      id,
		Name:                    p.Name,
		Participants:            []string{},
		BalanceAfterEachPayment: []int64{},
		RequiredParticipants:    int(required),
		Winner:                  core.NoWinner,
	}
	if err := ctx.State.SetLottery(l); err != nil {
		return err
	}
	ctx.Emit(events.EventLotteryCreated, map[string]any{
		"lottery_id":            id,
		"name":                  p.Name,
		"required_participants": l.RequiredParticipants,
	})
	return nil
}

func handleCreateUser(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CreateUserPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	balance, err := parseAmount("balance", p.Balance)
	if err != nil {
		return err
	}
	if balance < 0 {
		return fmt.Errorf("user balance cannot be negative, got %d: %w", balance, core.ErrValidation)
	}

	id, err := assets.NewAllocator(ctx.State).NextUserID()
	if err != nil {
		return err
	}
	if err := ctx.State.SetUser(&core.UserAccount{ID: id, Name: p.Name, Balance: balance}); err != nil {
		return err
	}
	ctx.Emit(events.EventUserCreated, map[string]any{"user_id": id, "name": p.Name, "balance": balance})
	return nil
}

func handleBuyLotteryTicket(ctx *vm.Context, payload json.RawMessage) error {
	var p core.BuyLotteryTicketPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	amount, err := parseAmount("amount", p.Amount)
	if err != nil {
		return err
	}

	reg := assets.NewRegistry(ctx.State)
	user, err := reg.GetUser(p.UserID)
	if err != nil {
		return err
	}
	l, err := reg.GetLottery(p.LotteryID)
	if err != nil {
		return err
	}

	switch {
	case l.Settled():
		return fmt.Errorf("lottery %s is closed: %w", l.ID, core.ErrValidation)
	case l.HasParticipant(user.ID):
		return fmt.Errorf("user %s already participates in lottery %s: %w", user.ID, l.ID, core.ErrConflict)
	case amount <= 0:
		return fmt.Errorf("deposit must be positive, got %d: %w", amount, core.ErrValidation)
	case user.Balance < amount:
		return fmt.Errorf("user %s has %d, cannot deposit %d: %w", user.ID, user.Balance, amount, core.ErrValidation)
	case l.Balance > math.MaxInt64-amount:
		return fmt.Errorf("lottery %s balance would overflow: %w", l.ID, core.ErrState)
	}

	user.Balance -= amount
	l.Balance += amount
	l.Participants = append(l.Participants, user.ID)
	l.BalanceAfterEachPayment = append(l.BalanceAfterEachPayment, l.Balance)
	l.NumberOfParticipants++

	ctx.Emit(events.EventTicketBought, map[string]any{
		"lottery_id": l.ID,
		"user_id":    user.ID,
		"amount":     amount,
	})

	if l.Settled() {
		if err := settle(ctx, reg, l, user); err != nil {
			return err
		}
	}

	if err := ctx.State.SetUser(user); err != nil {
		return err
	}
	return ctx.State.SetLottery(l)
}

func handleDeleteUser(ctx *vm.Context, payload json.RawMessage) error {
	var p core.DeletePayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	if err := assets.NewRegistry(ctx.State).DeleteUser(p.ID); err != nil {
		return err
	}
	ctx.Emit(events.EventAssetDeleted, map[string]any{"id": p.ID, "kind": "user"})
	return nil
}

func handleDeleteLottery(ctx *vm.Context, payload json.RawMessage) error {
	var p core.DeletePayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	if err := assets.NewRegistry(ctx.State).DeleteLottery(p.ID); err != nil {
		return err
	}
	ctx.Emit(events.EventAssetDeleted, map[string]any{"id": p.ID, "kind": "lottery"})
	return nil
}

func logger(ctx *vm.Context) *log.Entry {
	fields := log.Fields{"component": "lottery"}
	if ctx.Tx != nil {
		fields["tx_id"] = ctx.Tx.ID
	}
	return log.WithFields(fields)
}
