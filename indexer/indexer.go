// Package indexer maintains secondary indexes over committed blocks so
// clients can list a user's lotteries and wins without scanning full state.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/events"
	"github.com/tolelom/lottochain/sequencer"
	"github.com/tolelom/lottochain/storage"
	"github.com/tolelom/lottochain/vm"
)

const (
	prefixIndex         = "idx:"
	prefixUserLotteries = "idx:user:lottery:"
	prefixUserWins      = "idx:user:win:"
	// keyHeight is the last block whose events are fully indexed.
	keyHeight = "idx:height"
)

// Indexer subscribes to chain events and updates secondary lookup tables.
// Events reach it only after their block committed. Index writes are not
// part of the block batch; CatchUp repairs any gap left by a crash.
type Indexer struct {
	db storage.DB
}

// New creates an Indexer backed by db and subscribes to relevant events.
func New(db storage.DB, emitter *events.Emitter) *Indexer {
	idx := &Indexer{db: db}
	emitter.Subscribe(events.EventTicketBought, idx.onTicketBought)
	emitter.Subscribe(events.EventLotterySettled, idx.onLotterySettled)
	emitter.Subscribe(events.EventBlockCommit, func(ev events.Event) { idx.markIndexed(ev.BlockHeight) })
	return idx
}

// GetLotteriesByUser returns the lottery IDs a user bought into, in purchase order.
func (idx *Indexer) GetLotteriesByUser(userID string) ([]string, error) {
	return idx.getList(prefixUserLotteries + userID)
}

// GetWinsByUser returns the lottery IDs a user won, in settlement order.
func (idx *Indexer) GetWinsByUser(userID string) ([]string, error) {
	return idx.getList(prefixUserWins + userID)
}

// Height returns the last fully indexed block height. ok is false when
// nothing has been indexed yet.
func (idx *Indexer) Height() (height int64, ok bool, err error) {
	data, err := idx.db.Get([]byte(keyHeight))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	height, err = strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("indexer height: %w", err)
	}
	return height, true, nil
}

// CatchUp indexes committed blocks above Height by replaying the chain into
// scratch, which must be an empty state. Replayed index entries that already
// exist are left as they are, so a partially indexed block is safe to redo.
func (idx *Indexer) CatchUp(bc *core.Blockchain, scratch core.State, opts ...vm.Option) error {
	tip := bc.Tip()
	if tip == nil {
		return nil
	}
	indexed, ok, err := idx.Height()
	if err != nil {
		return err
	}
	if ok && indexed >= tip.Header.Height {
		return nil
	}
	from := int64(0)
	if ok {
		from = indexed + 1
	}

	_, err = sequencer.ReplayWithEvents(bc, scratch, func(b *core.Block, evs []events.Event) {
		if b.Header.Height < from {
			return
		}
		for _, ev := range evs {
			switch ev.Type {
			case events.EventTicketBought:
				idx.onTicketBought(ev)
			case events.EventLotterySettled:
				idx.onLotterySettled(ev)
			}
		}
		idx.markIndexed(b.Header.Height)
	}, opts...)
	if err != nil {
		return fmt.Errorf("reindex from block %d: %w", from, err)
	}
	log.WithFields(log.Fields{"component": "indexer", "from": from, "to": tip.Header.Height}).Info("index caught up")
	return nil
}

// Reset drops every index entry so the next CatchUp rebuilds from genesis.
func (idx *Indexer) Reset() error {
	it := idx.db.NewIterator([]byte(prefixIndex))
	batch := idx.db.NewBatch()
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return err
	}
	return batch.Write()
}

// ---- event handlers ----

func (idx *Indexer) onTicketBought(ev events.Event) {
	userID, _ := ev.Data["user_id"].(string)
	lotteryID, _ := ev.Data["lottery_id"].(string)
	if userID == "" || lotteryID == "" {
		return
	}
	idx.add(prefixUserLotteries+userID, lotteryID)
}

func (idx *Indexer) onLotterySettled(ev events.Event) {
	winner, _ := ev.Data["winner"].(string)
	lotteryID, _ := ev.Data["lottery_id"].(string)
	if winner == "" || lotteryID == "" {
		return
	}
	idx.add(prefixUserWins+winner, lotteryID)
}

func (idx *Indexer) markIndexed(height int64) {
	if err := idx.db.Set([]byte(keyHeight), []byte(strconv.FormatInt(height, 10))); err != nil {
		log.WithFields(log.Fields{"component": "indexer", "height": height}).Errorf("record index height: %v", err)
	}
}

func (idx *Indexer) add(key, value string) {
	if err := idx.addToList(key, value); err != nil {
		log.WithFields(log.Fields{"component": "indexer", "key": key}).Errorf("update index: %v", err)
	}
}

// ---- list helpers ----

func (idx *Indexer) getList(key string) ([]string, error) {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil // empty list
		}
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return ids, nil
}

func (idx *Indexer) addToList(key, value string) error {
	ids, err := idx.getList(key)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == value {
			return nil
		}
	}
	ids = append(ids, value)
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}
