package lottery

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/events"
	"github.com/tolelom/lottochain/internal/testutil"
	"github.com/tolelom/lottochain/prng"
	"github.com/tolelom/lottochain/storage"
	"github.com/tolelom/lottochain/vm"
)

// fixedSource always draws the same value and counts its draws in its state.
type fixedSource struct {
	r     float64
	Draws int `json:"draws"`
}

func (f *fixedSource) Float64() (float64, error) { f.Draws++; return f.r, nil }
func (f *fixedSource) MarshalState() ([]byte, error) {
	return json.Marshal(map[string]int{"draws": f.Draws})
}

func fixed(r float64) prng.RestoreFunc {
	return func(state []byte) (prng.Source, error) {
		f := &fixedSource{r: r}
		if len(state) > 0 {
			if err := json.Unmarshal(state, f); err != nil {
				return nil, err
			}
		}
		return f, nil
	}
}

type harness struct {
	t      *testing.T
	state  *storage.StateDB
	exec   *vm.Executor
	events []events.Event
}

func newHarness(t *testing.T, opts ...vm.Option) *harness {
	t.Helper()
	state := testutil.NewStateDB()
	return &harness{t: t, state: state, exec: vm.NewExecutor(state, opts...)}
}

func (h *harness) run(typ core.TxType, payload any) error {
	h.t.Helper()
	tx, err := core.NewTransaction(typ, payload)
	require.NoError(h.t, err)
	evs, err := h.exec.ExecuteTx(core.NewBlock(1, "", nil), tx)
	h.events = append(h.events, evs...)
	return err
}

func (h *harness) mustRun(typ core.TxType, payload any) {
	h.t.Helper()
	require.NoError(h.t, h.run(typ, payload))
}

func (h *harness) user(id string) *core.UserAccount {
	h.t.Helper()
	u, err := h.state.GetUser(id)
	require.NoError(h.t, err)
	return u
}

func (h *harness) lottery(id string) *core.LotteryPool {
	h.t.Helper()
	l, err := h.state.GetLottery(id)
	require.NoError(h.t, err)
	return l
}

func (h *harness) buy(lotteryID, userID, amount string) error {
	return h.run(core.TxBuyLotteryTicket, core.BuyLotteryTicketPayload{LotteryID: lotteryID, UserID: userID, Amount: amount})
}

func (h *harness) createLottery(required string) error {
	return h.run(core.TxCreateLottery, core.CreateLotteryPayload{Name: "pool", RequiredParticipants: required})
}

func TestInitLedger(t *testing.T) {
	h := newHarness(t)
	h.mustRun(core.TxInitLedger, core.InitLedgerPayload{})

	for i, name := range DemoUsers {
		u := h.user(fmt.Sprintf("USER%d", i))
		assert.Equal(t, name, u.Name)
		assert.Equal(t, int64(DemoBalance), u.Balance)
	}
	n, _, err := h.state.GetCounter(core.UserCounterKey)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), n)
	n, ok, err := h.state.GetCounter(core.LotteryCounterKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(0), n)

	gen, err := h.state.GetGeneratorState()
	require.NoError(t, err)
	want, _ := prng.New(prng.DefaultSeed).MarshalState()
	assert.JSONEq(t, string(want), string(gen))

	assert.ErrorIs(t, h.run(core.TxInitLedger, core.InitLedgerPayload{}), core.ErrState)
}

func TestWeightedDrawPicksFirstReachingThreshold(t *testing.T) {
	h := newHarness(t, vm.WithRandSource(fixed(0.5)))
	h.mustRun(core.TxInitLedger, core.InitLedgerPayload{})
	require.NoError(t, h.createLottery("2"))

	require.NoError(t, h.buy("LOTTERY0", "USER0", "50"))
	assert.Equal(t, []int64{50}, h.lottery("LOTTERY0").BalanceAfterEachPayment)
	require.NoError(t, h.buy("LOTTERY0", "USER1", "30"))

	// threshold = 0.5 * 80 = 40, first cumulative >= 40 is USER0's 50.
	l := h.lottery("LOTTERY0")
	assert.Equal(t, "USER0", l.Winner)
	assert.Equal(t, int64(0), l.Balance)
	assert.Equal(t, []int64{50, 80}, l.BalanceAfterEachPayment)
	assert.Equal(t, 2, l.NumberOfParticipants)
	assert.Equal(t, int64(50+80), h.user("USER0").Balance)
	assert.Equal(t, int64(70), h.user("USER1").Balance)

	gen, err := h.state.GetGeneratorState()
	require.NoError(t, err)
	assert.JSONEq(t, `{"draws":1}`, string(gen))
}

func TestDepositorCanWin(t *testing.T) {
	h := newHarness(t, vm.WithRandSource(fixed(0.9)))
	h.mustRun(core.TxInitLedger, core.InitLedgerPayload{})
	require.NoError(t, h.createLottery("2"))
	require.NoError(t, h.buy("LOTTERY0", "USER0", "50"))
	require.NoError(t, h.buy("LOTTERY0", "USER1", "30"))

	// threshold = 72, only USER1's 80 reaches it.
	assert.Equal(t, "USER1", h.lottery("LOTTERY0").Winner)
	assert.Equal(t, int64(50), h.user("USER0").Balance)
	assert.Equal(t, int64(70+80), h.user("USER1").Balance)

	gen, err := h.state.GetGeneratorState()
	require.NoError(t, err)
	assert.JSONEq(t, `{"draws":1}`, string(gen), "generator state must advance when the depositor wins")

	var settled []events.Event
	for _, ev := range h.events {
		if ev.Type == events.EventLotterySettled {
			settled = append(settled, ev)
		}
	}
	require.Len(t, settled, 1)
	assert.Equal(t, "USER1", settled[0].Data["winner"])
	assert.Equal(t, int64(80), settled[0].Data["payout"])
}

func TestClosedLotteryRejectsPurchase(t *testing.T) {
	h := newHarness(t, vm.WithRandSource(fixed(0.5)))
	h.mustRun(core.TxInitLedger, core.InitLedgerPayload{})
	require.NoError(t, h.createLottery("2"))
	require.NoError(t, h.buy("LOTTERY0", "USER0", "10"))
	require.NoError(t, h.buy("LOTTERY0", "USER1", "10"))

	before := h.state.ComputeRoot()
	err := h.buy("LOTTERY0", "USER2", "10")
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.Equal(t, before, h.state.ComputeRoot())

	// Closed takes precedence over the duplicate check.
	assert.ErrorIs(t, h.buy("LOTTERY0", "USER0", "10"), core.ErrValidation)
}

func TestDuplicateParticipation(t *testing.T) {
	h := newHarness(t)
	h.mustRun(core.TxInitLedger, core.InitLedgerPayload{})
	require.NoError(t, h.createLottery("3"))
	require.NoError(t, h.buy("LOTTERY0", "USER0", "10"))

	before := h.state.ComputeRoot()
	assert.ErrorIs(t, h.buy("LOTTERY0", "USER0", "10"), core.ErrConflict)
	// Conflict is reported before the amount is checked.
	assert.ErrorIs(t, h.buy("LOTTERY0", "USER0", "0"), core.ErrConflict)
	assert.Equal(t, before, h.state.ComputeRoot())
}

func TestInvalidDeposits(t *testing.T) {
	tests := []struct {
		name   string
		amount string
	}{
		{"zero", "0"},
		{"negative", "-5"},
		{"more than balance", "101"},
		{"not a number", "ten"},
		{"empty", ""},
		{"fractional", "1.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.mustRun(core.TxInitLedger, core.InitLedgerPayload{})
			require.NoError(t, h.createLottery("2"))
			before := h.state.ComputeRoot()

			assert.ErrorIs(t, h.buy("LOTTERY0", "USER0", tt.amount), core.ErrValidation)
			assert.Equal(t, int64(100), h.user("USER0").Balance)
			assert.Equal(t, before, h.state.ComputeRoot())
		})
	}
}

func TestBuyMissingRecords(t *testing.T) {
	h := newHarness(t)
	h.mustRun(core.TxInitLedger, core.InitLedgerPayload{})
	require.NoError(t, h.createLottery("2"))

	assert.ErrorIs(t, h.buy("LOTTERY9", "USER0", "10"), core.ErrNotFound)
	assert.ErrorIs(t, h.buy("LOTTERY0", "USER9", "10"), core.ErrNotFound)
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t)

	for _, required := range []string{"1", "0", "-3", "two", ""} {
		assert.ErrorIs(t, h.createLottery(required), core.ErrValidation, "requiredParticipants=%q", required)
	}
	for _, balance := range []string{"-1", "lots"} {
		err := h.run(core.TxCreateUser, core.CreateUserPayload{Name: "x", Balance: balance})
		assert.ErrorIs(t, err, core.ErrValidation, "balance=%q", balance)
	}

	// Rejected creations consume no ids.
	require.NoError(t, h.createLottery("2"))
	h.mustRun(core.TxCreateUser, core.CreateUserPayload{Name: "zero", Balance: "0"})
	h.lottery("LOTTERY0")
	assert.Equal(t, int64(0), h.user("USER0").Balance)
}

func TestIDsStrictlyIncreasing(t *testing.T) {
	h := newHarness(t)
	h.mustRun(core.TxInitLedger, core.InitLedgerPayload{})

	for i := 0; i < 3; i++ {
		h.mustRun(core.TxCreateUser, core.CreateUserPayload{Name: "u", Balance: "5"})
		require.NoError(t, h.createLottery("2"))
	}

	var users, lotteries []string
	for _, ev := range h.events {
		switch ev.Type {
		case events.EventUserCreated:
			users = append(users, ev.Data["user_id"].(string))
		case events.EventLotteryCreated:
			lotteries = append(lotteries, ev.Data["lottery_id"].(string))
		}
	}
	assert.Equal(t, []string{"USER4", "USER5", "USER6"}, users)
	assert.Equal(t, []string{"LOTTERY0", "LOTTERY1", "LOTTERY2"}, lotteries)
}

func TestDeleteLotteryGuard(t *testing.T) {
	h := newHarness(t, vm.WithRandSource(fixed(0.5)))
	h.mustRun(core.TxInitLedger, core.InitLedgerPayload{})
	require.NoError(t, h.createLottery("2"))
	require.NoError(t, h.buy("LOTTERY0", "USER0", "10"))

	err := h.run(core.TxDeleteLottery, core.DeletePayload{ID: "LOTTERY0"})
	assert.ErrorIs(t, err, core.ErrState)

	require.NoError(t, h.buy("LOTTERY0", "USER1", "10"))
	h.mustRun(core.TxDeleteLottery, core.DeletePayload{ID: "LOTTERY0"})
	ok, err := h.state.Has("LOTTERY0")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, h.run(core.TxDeleteLottery, core.DeletePayload{ID: "LOTTERY0"}), core.ErrNotFound)
}

func TestDeleteUser(t *testing.T) {
	h := newHarness(t)
	h.mustRun(core.TxInitLedger, core.InitLedgerPayload{})

	h.mustRun(core.TxDeleteUser, core.DeletePayload{ID: "USER3"})
	ok, err := h.state.Has("USER3")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, h.run(core.TxDeleteUser, core.DeletePayload{ID: core.GeneratorKey}), core.ErrValidation)
}

func TestMissingWinnerAbortsPurchase(t *testing.T) {
	h := newHarness(t, vm.WithRandSource(fixed(0.1)))
	h.mustRun(core.TxInitLedger, core.InitLedgerPayload{})
	require.NoError(t, h.createLottery("2"))
	require.NoError(t, h.buy("LOTTERY0", "USER0", "50"))
	h.mustRun(core.TxDeleteUser, core.DeletePayload{ID: "USER0"})

	before := h.state.ComputeRoot()
	assert.ErrorIs(t, h.buy("LOTTERY0", "USER1", "50"), core.ErrNotFound)
	assert.Equal(t, before, h.state.ComputeRoot())
	assert.Equal(t, int64(100), h.user("USER1").Balance)
}

func TestReplayIsDeterministic(t *testing.T) {
	script := func(h *harness) {
		h.mustRun(core.TxInitLedger, core.InitLedgerPayload{})
		for i := 0; i < 5; i++ {
			require.NoError(t, h.createLottery("3"))
			lottery := fmt.Sprintf("LOTTERY%d", i)
			require.NoError(t, h.buy(lottery, "USER0", "5"))
			require.NoError(t, h.buy(lottery, "USER1", "7"))
			_ = h.buy(lottery, "USER1", "7")
			require.NoError(t, h.buy(lottery, "USER2", "3"))
		}
	}

	a, b := newHarness(t), newHarness(t)
	script(a)
	script(b)
	require.NoError(t, a.state.Commit())

	assert.Equal(t, a.state.ComputeRoot(), b.state.ComputeRoot())
	ga, err := a.state.GetGeneratorState()
	require.NoError(t, err)
	gb, err := b.state.GetGeneratorState()
	require.NoError(t, err)
	assert.Equal(t, ga, gb)

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("LOTTERY%d", i)
		assert.Equal(t, a.lottery(id).Winner, b.lottery(id).Winner)
		assert.NotEqual(t, core.NoWinner, a.lottery(id).Winner)
	}
}

func TestPickWinner(t *testing.T) {
	cum := []int64{50, 80, 100}
	tests := []struct {
		threshold float64
		want      int
	}{
		{0, 0},
		{49.9, 0},
		{50, 0},
		{50.1, 1},
		{80, 1},
		{99.99, 2},
		{1000, 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, pickWinner(cum, tt.threshold), "threshold %v", tt.threshold)
	}
}

func TestPoolOverflowIsStateError(t *testing.T) {
	h := newHarness(t, vm.WithRandSource(fixed(0.5)))
	h.mustRun(core.TxInitLedger, core.InitLedgerPayload{})
	for _, name := range []string{"whale", "minnow"} {
		h.mustRun(core.TxCreateUser, core.CreateUserPayload{Name: name, Balance: "9223372036854775807"})
	}
	require.NoError(t, h.createLottery("3"))
	require.NoError(t, h.buy("LOTTERY0", "USER4", "9223372036854775807"))

	err := h.buy("LOTTERY0", "USER5", "1")
	assert.ErrorIs(t, err, core.ErrState)
	assert.Equal(t, int64(9223372036854775807), h.user("USER5").Balance)
	assert.Equal(t, 1, h.lottery("LOTTERY0").NumberOfParticipants)
}
