package storage

import (
	"fmt"
	"path/filepath"
)

// DB is the generic ordered key-value store interface.
type DB interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	// NewIterator walks keys with the given prefix in ascending order; a nil
	// prefix covers the whole keyspace.
	NewIterator(prefix []byte) Iterator
	// NewRangeIterator walks keys in [start, limit) in ascending order. A nil
	// start or limit leaves that side unbounded.
	NewRangeIterator(start, limit []byte) Iterator
	NewBatch() Batch
	Close() error
}

// Iterator walks key-value pairs in key order.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Release()
	Error() error
}

// Batch collects writes that are applied all-or-nothing by Write.
type Batch interface {
	Set(key, value []byte)
	Delete(key []byte)
	Reset()
	Write() error
}

// Backend names accepted by Open.
const (
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
)

// Open opens the named backend under dir/name.
func Open(backend, dir, name string) (DB, error) {
	switch backend {
	case "", BackendLevelDB:
		return NewLevelDB(filepath.Join(dir, name))
	case BackendBolt:
		return NewBoltDB(filepath.Join(dir, name+".db"))
	default:
		return nil, fmt.Errorf("unknown db backend %q", backend)
	}
}
