package subs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chattyapp/chatty-server/pkg/bus"
)

func TestRegistry_InsertDuplicate(t *testing.T) {
	r := NewRegistry()

	first := &Instance{ConnID: "c1", SubID: "s1", Name: "messageAdded"}
	require.NoError(t, r.Insert(first))
	first.activate()

	err := r.Insert(&Instance{ConnID: "c1", SubID: "s1", Name: "messageAdded"})
	require.Error(t, err)
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "DUPLICATE_SUBSCRIPTION", serr.Code)

	// same id on another connection is fine
	assert.NoError(t, r.Insert(&Instance{ConnID: "c2", SubID: "s1"}))
}

func TestRegistry_RemoveReturnsInstance(t *testing.T) {
	r := NewRegistry()
	inst := &Instance{ConnID: "c1", SubID: "s1"}
	require.NoError(t, r.Insert(inst))

	got := r.Remove("c1", "s1")
	assert.Same(t, inst, got)
	assert.Nil(t, r.Remove("c1", "s1"), "second remove is a no-op")
	assert.Nil(t, r.Remove("c9", "s1"))
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_ReinsertAfterRemove(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Insert(&Instance{ConnID: "c1", SubID: "s1"}))
	r.Remove("c1", "s1")
	assert.NoError(t, r.Insert(&Instance{ConnID: "c1", SubID: "s1"}), "start after stop must leave a clean slot")
}

func TestRegistry_RemoveAll(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Insert(&Instance{ConnID: "c1", SubID: "s1"}))
	require.NoError(t, r.Insert(&Instance{ConnID: "c1", SubID: "s2"}))
	require.NoError(t, r.Insert(&Instance{ConnID: "c2", SubID: "s1"}))

	got := r.RemoveAll("c1")
	assert.Len(t, got, 2)
	assert.Equal(t, 1, r.Count())
	assert.Empty(t, r.RemoveAll("c1"))
}

func TestInstance_DeliverGate(t *testing.T) {
	inst := &Instance{ConnID: "c1", SubID: "s1"}

	delivered := 0
	inst.deliver(func() { delivered++ })
	assert.Equal(t, 0, delivered, "pending instance must not deliver")

	inst.activate()
	inst.deliver(func() { delivered++ })
	assert.Equal(t, 1, delivered)

	inst.stop(nil)
	inst.deliver(func() { delivered++ })
	assert.Equal(t, 1, delivered, "stopping instance must not deliver")

	inst.terminate()
	assert.Equal(t, StateTerminated, inst.State())
}

func TestInstance_TerminateClearsHandlers(t *testing.T) {
	inst := &Instance{ConnID: "c1", SubID: "s1"}
	inst.handlers = make([]bus.Token, 3)
	inst.activate()

	got := inst.terminate()
	assert.Len(t, got, 3)
	assert.Nil(t, inst.handlers, "terminated instance must hold no handler references")
	assert.Empty(t, inst.terminate(), "second terminate returns nothing")
}
