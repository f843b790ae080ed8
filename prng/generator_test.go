package prng

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func draws(t *testing.T, g *Generator, n int) []float64 {
	t.Helper()
	out := make([]float64, n)
	for i := range out {
		v, err := g.Float64()
		require.NoError(t, err)
		out[i] = v
	}
	return out
}

func TestGeneratorSameSeedSameSequence(t *testing.T) {
	a := draws(t, New("seed"), 50)
	b := draws(t, New("seed"), 50)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, draws(t, New("other-seed"), 50))
}

func TestGeneratorRange(t *testing.T) {
	for _, v := range draws(t, New(DefaultSeed), 1000) {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.Less(t, v, 1.0)
	}
}

func TestGeneratorValuesVary(t *testing.T) {
	seen := make(map[float64]bool)
	for _, v := range draws(t, New(DefaultSeed), 100) {
		seen[v] = true
	}
	assert.Len(t, seen, 100)
}

// Persisting and restoring between every draw must not change the sequence.
func TestGeneratorRestoreContinuesSequence(t *testing.T) {
	want := draws(t, New(DefaultSeed), 20)

	var state []byte
	for i, w := range want {
		g, err := Restore(state)
		require.NoError(t, err)
		v, err := g.Float64()
		require.NoError(t, err)
		assert.Equal(t, w, v, "draw %d", i)
		state, err = g.MarshalState()
		require.NoError(t, err)
	}
}

func TestRestoreEmptyUsesDefaultSeed(t *testing.T) {
	g, err := Restore(nil)
	require.NoError(t, err)
	assert.Equal(t, draws(t, New(DefaultSeed), 3), draws(t, g, 3))
}

func TestRestoreRejectsBadState(t *testing.T) {
	for name, state := range map[string]string{
		"not json":  "garbage",
		"bad hex":   `{"key":"zz","counter":0}`,
		"short key": `{"key":"abcd","counter":0}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Restore([]byte(state))
			assert.Error(t, err)
		})
	}
}

func TestAdvanceRotatesKeyBeforeWrap(t *testing.T) {
	g := New(DefaultSeed)
	before := g.key
	g.counter = 1<<32 - 2
	_, err := g.Float64()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), g.counter)
	assert.NotEqual(t, before, g.key)
}

func TestRestorerImplementsSource(t *testing.T) {
	src, err := Restorer(nil)
	require.NoError(t, err)
	v, err := src.Float64()
	require.NoError(t, err)
	first, _ := New(DefaultSeed).Float64()
	assert.Equal(t, first, v)
}

const defaultSeedKey = "46015ded33413621dacd04c2b7d0e87458df7cdaea6354298e504f5f5f50308d"

func TestGeneratorKnownAnswers(t *testing.T) {
	g := New(DefaultSeed)
	assert.Equal(t, []float64{0.9476360732791822, 0.6627542127030219}, draws(t, g, 2))

	state, err := New(DefaultSeed).MarshalState()
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"`+defaultSeedKey+`","counter":0}`, string(state))

	g = New(DefaultSeed)
	draws(t, g, 1)
	state, err = g.MarshalState()
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"`+defaultSeedKey+`","counter":1}`, string(state))
}

func TestGeneratorKnownAnswersAcrossRotation(t *testing.T) {
	g, err := Restore([]byte(`{"key":"` + defaultSeedKey + `","counter":4294967294}`))
	require.NoError(t, err)

	v, err := g.Float64()
	require.NoError(t, err)
	assert.Equal(t, 0.3673460501550784, v)

	state, err := g.MarshalState()
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"f6cca47cf7e0aaf872e6fb939c7b9d1b3b04064b3c4377e4d52a6d8cd6523bf2","counter":0}`, string(state))

	v, err = g.Float64()
	require.NoError(t, err)
	assert.Equal(t, 0.0639276915720648, v)
}
