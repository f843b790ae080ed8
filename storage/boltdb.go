package storage

import (
	"bytes"
	"fmt"
	"time"

	"github.com/tolelom/lottochain/core"
	bolt "go.etcd.io/bbolt"
)

var boltBucket = []byte("ledger")

// BoltDB implements DB on a single bbolt bucket. Bolt keeps keys sorted, so
// prefix and range scans are plain cursor walks.
type BoltDB struct {
	db *bolt.DB
}

// NewBoltDB opens (or creates) a bolt file at path.
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %q: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &BoltDB{db: db}, nil
}

func (b *BoltDB) Get(key []byte) ([]byte, error) {
	var val []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(boltBucket).Get(key)
		if v == nil {
			return core.ErrNotFound
		}
		// Bolt values are only valid inside the transaction.
		val = append([]byte(nil), v...)
		return nil
	})
	return val, err
}

func (b *BoltDB) Set(key, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put(key, value)
	})
}

func (b *BoltDB) Delete(key []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Delete(key)
	})
}

func (b *BoltDB) NewIterator(prefix []byte) Iterator {
	return b.collect(func(c *bolt.Cursor) (k, v []byte) { return c.Seek(prefix) },
		func(k []byte) bool { return bytes.HasPrefix(k, prefix) })
}

func (b *BoltDB) NewRangeIterator(start, limit []byte) Iterator {
	first := func(c *bolt.Cursor) (k, v []byte) {
		if start == nil {
			return c.First()
		}
		return c.Seek(start)
	}
	return b.collect(first, func(k []byte) bool {
		return limit == nil || bytes.Compare(k, limit) < 0
	})
}

// collect copies matching pairs out of a read transaction so the returned
// iterator does not pin the bolt transaction.
func (b *BoltDB) collect(first func(*bolt.Cursor) ([]byte, []byte), keep func([]byte) bool) Iterator {
	it := &sliceIterator{idx: -1}
	it.err = b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(boltBucket).Cursor()
		for k, v := first(c); k != nil && keep(k); k, v = c.Next() {
			it.pairs = append(it.pairs, core.KV{Key: string(k), Value: append([]byte(nil), v...)})
		}
		return nil
	})
	return it
}

func (b *BoltDB) NewBatch() Batch {
	return &boltBatch{db: b.db}
}

func (b *BoltDB) Close() error {
	return b.db.Close()
}

type boltOp struct {
	key   []byte
	value []byte // nil means delete
}

// boltBatch applies all queued writes inside one bolt Update transaction.
type boltBatch struct {
	db  *bolt.DB
	ops []boltOp
}

func (b *boltBatch) Set(key, value []byte) {
	b.ops = append(b.ops, boltOp{key: append([]byte(nil), key...), value: append([]byte{}, value...)})
}

func (b *boltBatch) Delete(key []byte) {
	b.ops = append(b.ops, boltOp{key: append([]byte(nil), key...)})
}

func (b *boltBatch) Reset() { b.ops = nil }

func (b *boltBatch) Write() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(boltBucket)
		for _, op := range b.ops {
			var err error
			if op.value == nil {
				err = bkt.Delete(op.key)
			} else {
				err = bkt.Put(op.key, op.value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// sliceIterator iterates over pre-collected pairs.
type sliceIterator struct {
	pairs []core.KV
	idx   int
	err   error
}

func (it *sliceIterator) Next() bool    { it.idx++; return it.idx < len(it.pairs) }
func (it *sliceIterator) Key() []byte   { return []byte(it.pairs[it.idx].Key) }
func (it *sliceIterator) Value() []byte { return it.pairs[it.idx].Value }
func (it *sliceIterator) Release()      {}
func (it *sliceIterator) Error() error  { return it.err }
