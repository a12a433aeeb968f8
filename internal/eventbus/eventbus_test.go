package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest/observer"

	"go.uber.org/zap"
)

func TestEmitFansOutToAllSubscribers(t *testing.T) {
	bus := New(nil)

	var gotA, gotB Event
	bus.Subscribe(IndexCreated, func(ev Event) { gotA = ev })
	bus.Subscribe(IndexCreated, func(ev Event) { gotB = ev })

	bus.Emit(Event{Name: IndexCreated, InstanceID: "idx-1"})

	assert.Equal(t, "idx-1", gotA.InstanceID)
	assert.Equal(t, "idx-1", gotB.InstanceID)
}

func TestEmitOnlyNotifiesMatchingEventName(t *testing.T) {
	bus := New(nil)

	called := false
	bus.Subscribe(IndexCreated, func(Event) { called = true })

	bus.Emit(Event{Name: IndexDestroyed})

	assert.False(t, called)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New(nil)

	calls := 0
	unsub := bus.Subscribe(DocumentAdded, func(Event) { calls++ })

	bus.Emit(Event{Name: DocumentAdded})
	unsub()
	bus.Emit(Event{Name: DocumentAdded})

	assert.Equal(t, 1, calls)
}

func TestEmitRecoversFromPanickingSubscriber(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	logger := zap.New(core)
	bus := New(logger)

	secondCalled := false
	bus.Subscribe(Error, func(Event) { panic("boom") })
	bus.Subscribe(Error, func(Event) { secondCalled = true })

	require.NotPanics(t, func() {
		bus.Emit(Event{Name: Error})
	})

	assert.True(t, secondCalled, "a panicking subscriber must not block later subscribers")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "eventbus subscriber panicked", logs.All()[0].Message)
}

func TestNewWithNilLoggerDoesNotPanic(t *testing.T) {
	bus := New(nil)
	require.NotPanics(t, func() {
		bus.Emit(Event{Name: IndexCreated})
	})
}
