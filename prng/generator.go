// Package prng provides the ledger's deterministic random source. A
// Generator's whole internal state serializes to a small JSON document that
// is persisted between draws, so the output sequence depends only on the
// seed and the number of draws already taken.
package prng

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"golang.org/x/crypto/chacha20"
)

// DefaultSeed seeds the ledger's generator at initialisation.
const DefaultSeed = "secret-seed"

// Source is a restorable random source: a value in [0,1) per draw plus the
// serialized state to persist afterwards.
type Source interface {
	Float64() (float64, error)
	MarshalState() ([]byte, error)
}

// RestoreFunc rebuilds a Source from persisted state; nil state means
// "never seeded".
type RestoreFunc func(state []byte) (Source, error)

// Restorer is the production RestoreFunc.
func Restorer(state []byte) (Source, error) {
	g, err := Restore(state)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Generator draws values from consecutive ChaCha20 keystream blocks.
type Generator struct {
	key     [chacha20.KeySize]byte
	counter uint32
}

type snapshot struct {
	Key     string `json:"key"`
	Counter uint32 `json:"counter"`
}

// New returns a generator whose key is SHA-256(seed).
func New(seed string) *Generator {
	return &Generator{key: sha256.Sum256([]byte(seed))}
}

// Restore rebuilds a generator from MarshalState output. Empty state yields
// a generator seeded with DefaultSeed.
func Restore(state []byte) (*Generator, error) {
	if len(state) == 0 {
		return New(DefaultSeed), nil
	}
	var snap snapshot
	if err := json.Unmarshal(state, &snap); err != nil {
		return nil, fmt.Errorf("decode generator state: %w", err)
	}
	key, err := hex.DecodeString(snap.Key)
	if err != nil {
		return nil, fmt.Errorf("decode generator key: %w", err)
	}
	if len(key) != chacha20.KeySize {
		return nil, fmt.Errorf("generator key must be %d bytes, got %d", chacha20.KeySize, len(key))
	}
	g := &Generator{counter: snap.Counter}
	copy(g.key[:], key)
	return g, nil
}

// Float64 returns the next value in [0,1) and advances the generator.
func (g *Generator) Float64() (float64, error) {
	var nonce [chacha20.NonceSize]byte
	c, err := chacha20.NewUnauthenticatedCipher(g.key[:], nonce[:])
	if err != nil {
		return 0, fmt.Errorf("init chacha20: %w", err)
	}
	c.SetCounter(g.counter)
	var block [64]byte
	c.XORKeyStream(block[:], block[:])

	g.advance()
	// 53 random bits fill a float64 mantissa exactly.
	v := binary.LittleEndian.Uint64(block[:8]) >> 11
	return float64(v) / (1 << 53), nil
}

// advance moves to the next keystream block, rotating the key before the
// 32-bit block counter would wrap.
func (g *Generator) advance() {
	if g.counter == math.MaxUint32-1 {
		g.key = sha256.Sum256(g.key[:])
		g.counter = 0
		return
	}
	g.counter++
}

// MarshalState serializes the full generator state.
func (g *Generator) MarshalState() ([]byte, error) {
	return json.Marshal(snapshot{Key: hex.EncodeToString(g.key[:]), Counter: g.counter})
}
