package lottery

import (
	"fmt"
	"math"

	"github.com/tolelom/lottochain/assets"
	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/events"
	"github.com/tolelom/lottochain/vm"
)

// settle draws the winner of a filled lottery and pays out the pool.
// depositor is the user whose purchase filled it; when it wins, the payout is
// applied to that in-memory record, which the caller writes.
func settle(ctx *vm.Context, reg *assets.Registry, l *core.LotteryPool, depositor *core.UserAccount) error {
	state, err := ctx.State.GetGeneratorState()
	if err != nil {
		return fmt.Errorf("load generator: %w", err)
	}
	src, err := ctx.Rand(state)
	if err != nil {
		return fmt.Errorf("restore generator: %w", err)
	}
	r, err := src.Float64()
	if err != nil {
		return fmt.Errorf("draw: %w", err)
	}
	next, err := src.MarshalState()
	if err != nil {
		return fmt.Errorf("save generator: %w", err)
	}
	if err := ctx.State.SetGeneratorState(next); err != nil {
		return err
	}

	threshold := r * float64(l.Balance)
	winnerID := l.Participants[pickWinner(l.BalanceAfterEachPayment, threshold)]

	winner := depositor
	if winnerID != depositor.ID {
		if winner, err = reg.GetUser(winnerID); err != nil {
			return fmt.Errorf("winner of %s: %w", l.ID, err)
		}
	}
	if winner.Balance > math.MaxInt64-l.Balance {
		return fmt.Errorf("payout of %d would overflow balance of %s: %w", l.Balance, winner.ID, core.ErrState)
	}

	payout := l.Balance
	winner.Balance += payout
	l.Balance = 0
	l.Winner = winner.ID

	if winner != depositor {
		if err := ctx.State.SetUser(winner); err != nil {
			return err
		}
	}

	logger(ctx).WithField("lottery", l.ID).Debugf("draw r=%v threshold=%v winner=%s", r, threshold, winner.ID)
	ctx.Emit(events.EventLotterySettled, map[string]any{
		"lottery_id":   l.ID,
		"winner":       winner.ID,
		"payout":       payout,
		"participants": append([]string(nil), l.Participants...),
	})
	return nil
}

// pickWinner returns the first index whose cumulative deposit reaches
// threshold. Participant i owns the interval (cum[i-1], cum[i]], so a draw
// on a boundary goes to the earlier participant. The last participant is the
// fallback.
func pickWinner(cumulative []int64, threshold float64) int {
	for i, c := range cumulative {
		if float64(c) >= threshold {
			return i
		}
	}
	return len(cumulative) - 1
}
