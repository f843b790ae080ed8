package core

// NoWinner is the winner placeholder of a lottery that has not been settled.
const NoWinner = "unknown yet"

// World-state key layout. Records are stored under their own ids, which
// start with the category prefix.
const (
	UserPrefix        = "USER"
	LotteryPrefix     = "LOTTERY"
	UserCounterKey    = "userCounter"
	LotteryCounterKey = "lotteryCounter"
	GeneratorKey      = "randomGenerator"
)

// UserAccount is a participant able to deposit into lotteries.
type UserAccount struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Balance int64  `json:"balance"`
}

// LotteryPool is a pooled lottery record. Participants and
// BalanceAfterEachPayment are parallel: entry i is the pool balance right
// after participant i deposited.
type LotteryPool struct {
	ID                      string   `json:"id"`
	Name                    string   `json:"name"`
	Balance                 int64    `json:"balance"`
	NumberOfParticipants    int      `json:"numberOfParticipants"`
	Participants            []string `json:"participants"`
	BalanceAfterEachPayment []int64  `json:"balanceAfterEachPayment"`
	RequiredParticipants    int      `json:"requiredParticipants"`
	Winner                  string   `json:"winner"`
}

// Settled reports whether the lottery has been filled and paid out.
func (l *LotteryPool) Settled() bool {
	return l.NumberOfParticipants == l.RequiredParticipants
}

// HasParticipant reports whether userID already deposited into l.
func (l *LotteryPool) HasParticipant(userID string) bool {
	for _, p := range l.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// KV is a raw key-value pair returned by range scans.
type KV struct {
	Key   string
	Value []byte
}

// State is the world-state interface the lottery engine runs against.
// Implementations buffer writes so that a failed operation can be rolled back
// and a successful one committed as a single batch.
type State interface {
	// Users
	GetUser(id string) (*UserAccount, error)
	SetUser(u *UserAccount) error

	// Lotteries
	GetLottery(id string) (*LotteryPool, error)
	SetLottery(l *LotteryPool) error

	// Persisted id counters
	GetCounter(name string) (uint64, bool, error)
	SetCounter(name string, v uint64) error

	// Serialized generator snapshot; nil when never seeded.
	GetGeneratorState() ([]byte, error)
	SetGeneratorState(data []byte) error

	// Raw access
	Has(key string) (bool, error)
	Delete(key string) error
	// Scan returns every key with the given prefix ("" = whole keyspace),
	// ordered by key, including uncommitted writes.
	Scan(prefix string) ([]KV, error)

	// Snapshot / rollback / commit
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// Discard drops every uncommitted write.
	Discard()
	// ComputeRoot returns the deterministic state root from the current write
	// buffer without flushing.
	ComputeRoot() string
	// Commit flushes the write buffer to the underlying DB and clears it.
	Commit() error
}
