package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/events"

	_ "github.com/tolelom/lottochain/vm/modules/lottery"
)

func TestRecordOperationByOutcome(t *testing.T) {
	c := NewCollector("test")

	c.RecordOperation(core.TxCreateUser, time.Millisecond, nil)
	c.RecordOperation(core.TxCreateUser, time.Millisecond, nil)
	c.RecordOperation(core.TxBuyLotteryTicket, time.Millisecond, core.ErrConflict)
	c.RecordOperation(core.TxBuyLotteryTicket, time.Millisecond, errors.New("disk"))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.opsTotal.WithLabelValues("CreateUser", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.opsTotal.WithLabelValues("BuyLotteryTicket", "conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.opsTotal.WithLabelValues("BuyLotteryTicket", "internal")))
}

func TestRecordOperationBoundsTypeLabel(t *testing.T) {
	c := NewCollector("test")

	for _, typ := range []core.TxType{"Mint", "Transfer", "x-" + core.TxCreateUser} {
		c.RecordOperation(typ, time.Millisecond, core.ErrValidation)
	}
	c.RecordOperation(core.TxDeleteUser, time.Millisecond, nil)

	assert.Equal(t, 3.0, testutil.ToFloat64(c.opsTotal.WithLabelValues("unknown", "validation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.opsTotal.WithLabelValues("DeleteUser", "ok")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.opsTotal))
}

func TestAttachFollowsEvents(t *testing.T) {
	c := NewCollector("test")
	em := events.NewEmitter()
	c.Attach(em)

	em.Emit(events.Event{Type: events.EventLotterySettled, Data: map[string]any{"payout": int64(80)}})
	em.Emit(events.Event{Type: events.EventBlockCommit, BlockHeight: 7})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.settlements))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.chainHeight))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector("")
	c.SetHeight(3)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "lottochain_chain_height 3"))
}
