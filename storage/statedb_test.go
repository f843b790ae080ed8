package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/internal/testutil"
	"github.com/tolelom/lottochain/storage"
)

func TestStateDBUserLotteryRoundTrip(t *testing.T) {
	s := testutil.NewStateDB()

	require.NoError(t, s.SetUser(&core.UserAccount{ID: "USER0", Name: "Adrian", Balance: 100}))
	require.NoError(t, s.SetLottery(&core.LotteryPool{ID: "LOTTERY0", Name: "Big", RequiredParticipants: 2, Winner: core.NoWinner}))

	u, err := s.GetUser("USER0")
	require.NoError(t, err)
	assert.Equal(t, int64(100), u.Balance)

	l, err := s.GetLottery("LOTTERY0")
	require.NoError(t, err)
	assert.Equal(t, core.NoWinner, l.Winner)
	assert.Empty(t, l.Participants)
	assert.NotNil(t, l.Participants)

	_, err = s.GetUser("USER9")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestStateDBCounters(t *testing.T) {
	s := testutil.NewStateDB()

	_, ok, err := s.GetCounter(core.UserCounterKey)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetCounter(core.UserCounterKey, 7))
	v, ok, err := s.GetCounter(core.UserCounterKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(7), v)
}

func TestStateDBGeneratorState(t *testing.T) {
	s := testutil.NewStateDB()

	data, err := s.GetGeneratorState()
	require.NoError(t, err)
	assert.Nil(t, data)

	assert.Error(t, s.SetGeneratorState([]byte("not json")))
	require.NoError(t, s.SetGeneratorState([]byte(`{"key":"00","counter":1}`)))
	data, err = s.GetGeneratorState()
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"00","counter":1}`, string(data))
}

func TestStateDBSnapshotRevert(t *testing.T) {
	s := testutil.NewStateDB()
	require.NoError(t, s.SetUser(&core.UserAccount{ID: "USER0", Name: "a", Balance: 10}))

	snap, err := s.Snapshot()
	require.NoError(t, err)

	require.NoError(t, s.SetUser(&core.UserAccount{ID: "USER0", Name: "a", Balance: 0}))
	require.NoError(t, s.Delete("USER0"))
	has, err := s.Has("USER0")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, s.RevertToSnapshot(snap))
	u, err := s.GetUser("USER0")
	require.NoError(t, err)
	assert.Equal(t, int64(10), u.Balance)

	assert.Error(t, s.RevertToSnapshot(5))
}

func TestStateDBCommitAndDiscard(t *testing.T) {
	db := testutil.NewMemDB()
	s := storage.NewStateDB(db)

	require.NoError(t, s.SetUser(&core.UserAccount{ID: "USER0", Name: "a", Balance: 1}))
	assert.Equal(t, 0, db.Len(), "writes must stay buffered until commit")

	require.NoError(t, s.Commit())
	assert.Equal(t, 1, db.Len())

	require.NoError(t, s.SetUser(&core.UserAccount{ID: "USER1", Name: "b", Balance: 1}))
	require.NoError(t, s.Delete("USER0"))
	s.Discard()

	has, err := s.Has("USER0")
	require.NoError(t, err)
	assert.True(t, has)
	has, err = s.Has("USER1")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestStateDBScanMergesBuffer(t *testing.T) {
	s := testutil.NewStateDB()
	for _, id := range []string{"USER2", "USER0"} {
		require.NoError(t, s.SetUser(&core.UserAccount{ID: id, Name: id, Balance: 1}))
	}
	require.NoError(t, s.Commit())

	require.NoError(t, s.SetUser(&core.UserAccount{ID: "USER1", Name: "x", Balance: 1}))
	require.NoError(t, s.Delete("USER2"))
	require.NoError(t, s.SetCounter(core.UserCounterKey, 3))

	kvs, err := s.Scan(core.UserPrefix)
	require.NoError(t, err)
	var keys []string
	for _, kv := range kvs {
		keys = append(keys, kv.Key)
	}
	assert.Equal(t, []string{"USER0", "USER1"}, keys)

	all, err := s.Scan("")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStateDBComputeRootDeterministic(t *testing.T) {
	build := func(order []string) string {
		s := testutil.NewStateDB()
		for _, id := range order {
			require.NoError(t, s.SetUser(&core.UserAccount{ID: id, Name: id, Balance: 5}))
		}
		return s.ComputeRoot()
	}
	a := build([]string{"USER0", "USER1", "USER2"})
	b := build([]string{"USER2", "USER0", "USER1"})
	assert.Equal(t, a, b)
	assert.NotEmpty(t, a)

	// Root is the same before and after commit.
	s := testutil.NewStateDB()
	require.NoError(t, s.SetUser(&core.UserAccount{ID: "USER0", Name: "USER0", Balance: 5}))
	before := s.ComputeRoot()
	require.NoError(t, s.Commit())
	assert.Equal(t, before, s.ComputeRoot())

	require.NoError(t, s.SetCounter(core.UserCounterKey, 1))
	assert.NotEqual(t, before, s.ComputeRoot())
}
