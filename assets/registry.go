// Package assets provides typed access to the ledger's user and lottery
// records: existence checks, guarded deletes, enumeration by category and
// id allocation from the persisted counters.
package assets

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tolelom/lottochain/core"
)

// Category selects the records ShowAssets enumerates.
type Category string

const (
	CategoryUser    Category = "user"
	CategoryLottery Category = "lottery"
	CategoryAll     Category = "all"
)

// prefix returns the key prefix scanned for c.
func (c Category) prefix() (string, error) {
	switch c {
	case CategoryUser:
		return core.UserPrefix, nil
	case CategoryLottery:
		return core.LotteryPrefix, nil
	case CategoryAll:
		return "", nil
	default:
		return "", fmt.Errorf("unknown asset category %q: %w", string(c), core.ErrValidation)
	}
}

// Entry is one enumerated record. Record holds the decoded JSON document, or
// the raw value as a string when it is not JSON.
type Entry struct {
	Key    string `json:"Key"`
	Record any    `json:"Record"`
}

// Registry reads and deletes records through a core.State.
type Registry struct {
	state core.State
}

// NewRegistry returns a Registry over state.
func NewRegistry(state core.State) *Registry {
	return &Registry{state: state}
}

// Exists reports whether any record is stored under id.
func (r *Registry) Exists(id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	return r.state.Has(id)
}

// GetUser returns the user stored under id.
func (r *Registry) GetUser(id string) (*core.UserAccount, error) {
	if !strings.HasPrefix(id, core.UserPrefix) {
		return nil, fmt.Errorf("user %q does not exist: %w", id, core.ErrNotFound)
	}
	u, err := r.state.GetUser(id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("user %q does not exist: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read user %q: %w", id, err)
	}
	return u, nil
}

// GetLottery returns the lottery stored under id.
func (r *Registry) GetLottery(id string) (*core.LotteryPool, error) {
	if !strings.HasPrefix(id, core.LotteryPrefix) {
		return nil, fmt.Errorf("lottery %q does not exist: %w", id, core.ErrNotFound)
	}
	l, err := r.state.GetLottery(id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("lottery %q does not exist: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read lottery %q: %w", id, err)
	}
	return l, nil
}

// DeleteUser removes a user record. Deleting a missing user is not an error.
// Ids outside the user keyspace are rejected so that counters, the generator
// and lotteries cannot be removed through this path.
func (r *Registry) DeleteUser(id string) error {
	if !strings.HasPrefix(id, core.UserPrefix) {
		return fmt.Errorf("%q is not a user id: %w", id, core.ErrValidation)
	}
	return r.state.Delete(id)
}

// DeleteLottery removes a lottery whose pool is empty.
func (r *Registry) DeleteLottery(id string) error {
	l, err := r.GetLottery(id)
	if err != nil {
		return err
	}
	if l.Balance != 0 {
		return fmt.Errorf("lottery %q still holds %d: %w", id, l.Balance, core.ErrState)
	}
	return r.state.Delete(id)
}

// Enumerate returns every record in category c ordered by key.
func (r *Registry) Enumerate(c Category) ([]Entry, error) {
	prefix, err := c.prefix()
	if err != nil {
		return nil, err
	}
	kvs, err := r.state.Scan(prefix)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(kvs))
	for _, kv := range kvs {
		e := Entry{Key: kv.Key}
		if json.Valid(kv.Value) {
			e.Record = json.RawMessage(kv.Value)
		} else {
			e.Record = string(kv.Value)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ShowAssets returns Enumerate(category) as a JSON array of {Key, Record}.
func (r *Registry) ShowAssets(category string) ([]byte, error) {
	entries, err := r.Enumerate(Category(category))
	if err != nil {
		return nil, err
	}
	return json.Marshal(entries)
}
