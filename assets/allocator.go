package assets

import (
	"fmt"
	"math"
	"strconv"

	"github.com/tolelom/lottochain/core"
)

// Allocator hands out record ids from the persisted counters. The counter
// write lands in the same buffer as the record it names, so an aborted
// operation never consumes an id.
type Allocator struct {
	state core.State
}

// NewAllocator returns an Allocator over state.
func NewAllocator(state core.State) *Allocator {
	return &Allocator{state: state}
}

// NextUserID returns USER<n> and advances userCounter.
func (a *Allocator) NextUserID() (string, error) {
	return a.next(core.UserCounterKey, core.UserPrefix)
}

// NextLotteryID returns LOTTERY<n> and advances lotteryCounter.
func (a *Allocator) NextLotteryID() (string, error) {
	return a.next(core.LotteryCounterKey, core.LotteryPrefix)
}

func (a *Allocator) next(counter, prefix string) (string, error) {
	// An absent counter reads as 0.
	n, _, err := a.state.GetCounter(counter)
	if err != nil {
		return "", err
	}
	if n == math.MaxUint64 {
		return "", fmt.Errorf("%s exhausted: %w", counter, core.ErrState)
	}
	if err := a.state.SetCounter(counter, n+1); err != nil {
		return "", err
	}
	return prefix + strconv.FormatUint(n, 10), nil
}
