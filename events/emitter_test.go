package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitDeliversToSubscribers(t *testing.T) {
	e := NewEmitter()
	var got []string
	e.Subscribe(EventUserCreated, func(ev Event) { got = append(got, "a:"+ev.TxID) })
	e.Subscribe(EventUserCreated, func(ev Event) { got = append(got, "b:"+ev.TxID) })
	e.Subscribe(EventLotteryCreated, func(ev Event) { got = append(got, "other") })

	e.Emit(Event{Type: EventUserCreated, TxID: "t1"})
	assert.Equal(t, []string{"a:t1", "b:t1"}, got)
}

func TestEmitRecoversPanickingHandler(t *testing.T) {
	e := NewEmitter()
	called := false
	e.Subscribe(EventBlockCommit, func(Event) { panic("boom") })
	e.Subscribe(EventBlockCommit, func(Event) { called = true })

	assert.NotPanics(t, func() { e.Emit(Event{Type: EventBlockCommit}) })
	assert.True(t, called)
}
