package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/crypto"
)

type stateSnapshot struct {
	dirty   map[string][]byte
	deleted map[string]bool
}

// StateDB implements core.State on top of a dedicated DB with in-memory write
// buffer, snapshot/rollback, and deterministic state-root computation.
// Nothing reaches the DB before Commit.
type StateDB struct {
	db        DB
	dirty     map[string][]byte
	deleted   map[string]bool
	snapshots []stateSnapshot
}

// NewStateDB creates a StateDB backed by db. The whole keyspace of db is
// world state.
func NewStateDB(db DB) *StateDB {
	return &StateDB{
		db:      db,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

// ---- internal helpers ----

func (s *StateDB) get(key string) ([]byte, error) {
	if s.deleted[key] {
		return nil, core.ErrNotFound
	}
	if v, ok := s.dirty[key]; ok {
		return v, nil
	}
	return s.db.Get([]byte(key))
}

func (s *StateDB) set(key string, val []byte) {
	delete(s.deleted, key)
	s.dirty[key] = val
}

func (s *StateDB) del(key string) {
	delete(s.dirty, key)
	s.deleted[key] = true
}

// ---- Users ----

func (s *StateDB) GetUser(id string) (*core.UserAccount, error) {
	data, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return core.DecodeUser(data)
}

func (s *StateDB) SetUser(u *core.UserAccount) error {
	data, err := core.EncodeUser(u)
	if err != nil {
		return err
	}
	s.set(u.ID, data)
	return nil
}

// ---- Lotteries ----

func (s *StateDB) GetLottery(id string) (*core.LotteryPool, error) {
	data, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return core.DecodeLottery(data)
}

func (s *StateDB) SetLottery(l *core.LotteryPool) error {
	data, err := core.EncodeLottery(l)
	if err != nil {
		return err
	}
	s.set(l.ID, data)
	return nil
}

// ---- Counters ----

func (s *StateDB) GetCounter(name string) (uint64, bool, error) {
	data, err := s.get(name)
	if errors.Is(err, core.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var v uint64
	if err := json.Unmarshal(data, &v); err != nil {
		return 0, false, fmt.Errorf("decode counter %q: %w", name, err)
	}
	return v, true, nil
}

func (s *StateDB) SetCounter(name string, v uint64) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.set(name, data)
	return nil
}

// ---- Generator ----

func (s *StateDB) GetGeneratorState() ([]byte, error) {
	data, err := s.get(core.GeneratorKey)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

func (s *StateDB) SetGeneratorState(data []byte) error {
	if !json.Valid(data) {
		return errors.New("generator state must be a JSON document")
	}
	s.set(core.GeneratorKey, append([]byte(nil), data...))
	return nil
}

// ---- Raw access ----

func (s *StateDB) Has(key string) (bool, error) {
	data, err := s.get(key)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return len(data) > 0, nil
}

func (s *StateDB) Delete(key string) error {
	s.del(key)
	return nil
}

// Scan merges persisted entries under prefix with the write buffer and
// returns them sorted by key.
func (s *StateDB) Scan(prefix string) ([]core.KV, error) {
	merged, err := s.merged(prefix)
	if err != nil {
		return nil, err
	}
	keys := sortedKeys(merged)
	out := make([]core.KV, 0, len(keys))
	for _, k := range keys {
		out = append(out, core.KV{Key: k, Value: merged[k]})
	}
	return out, nil
}

func (s *StateDB) merged(prefix string) (map[string][]byte, error) {
	merged := make(map[string][]byte)
	it := s.db.NewIterator([]byte(prefix))
	for it.Next() {
		v := make([]byte, len(it.Value()))
		copy(v, it.Value())
		merged[string(it.Key())] = v
	}
	it.Release()
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("scan %q: %w", prefix, err)
	}
	for k, v := range s.dirty {
		if strings.HasPrefix(k, prefix) {
			merged[k] = v
		}
	}
	for k := range s.deleted {
		delete(merged, k)
	}
	return merged, nil
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ---- Snapshot / Rollback / Commit ----

// Snapshot saves the current write buffer and returns a snapshot ID.
func (s *StateDB) Snapshot() (int, error) {
	snap := stateSnapshot{
		dirty:   make(map[string][]byte, len(s.dirty)),
		deleted: make(map[string]bool, len(s.deleted)),
	}
	for k, v := range s.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		snap.dirty[k] = cp
	}
	for k, v := range s.deleted {
		snap.deleted[k] = v
	}
	s.snapshots = append(s.snapshots, snap)
	return len(s.snapshots) - 1, nil
}

// RevertToSnapshot restores the write buffer to a previously saved snapshot.
// The snapshot maps are deep-copied so that subsequent writes cannot corrupt them.
func (s *StateDB) RevertToSnapshot(id int) error {
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	snap := s.snapshots[id]

	dirty := make(map[string][]byte, len(snap.dirty))
	for k, v := range snap.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		dirty[k] = cp
	}
	deleted := make(map[string]bool, len(snap.deleted))
	for k, v := range snap.deleted {
		deleted[k] = v
	}

	s.dirty = dirty
	s.deleted = deleted
	s.snapshots = s.snapshots[:id]
	return nil
}

// Discard drops the write buffer and all snapshots.
func (s *StateDB) Discard() {
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.snapshots = nil
}

// ComputeRoot returns the deterministic hash of the complete world state:
// persisted entries merged with the write buffer, sorted by key and hashed
// with length-prefix encoding. It does NOT flush or modify state.
func (s *StateDB) ComputeRoot() string {
	merged, err := s.merged("")
	if err != nil {
		// An unreadable store has no meaningful root; make it fail every
		// comparison instead of silently matching.
		return ""
	}

	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, k := range sortedKeys(merged) {
		v := merged[k]
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(k)))
		buf.Write(lenBuf[:])
		buf.WriteString(k)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf.Write(lenBuf[:])
		buf.Write(v)
	}
	return crypto.Hash(buf.Bytes())
}

// Commit atomically flushes the write buffer to the underlying DB via a
// Batch and then clears it.
func (s *StateDB) Commit() error {
	batch := s.db.NewBatch()
	for _, k := range sortedKeys(s.dirty) {
		batch.Set([]byte(k), s.dirty[k])
	}
	for k := range s.deleted {
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.Discard()
	return nil
}
