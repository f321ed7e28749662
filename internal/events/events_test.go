package events

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/devscontext/internal/config"
	"github.com/fyrsmithlabs/devscontext/internal/logging"
)

func startTestBus(t *testing.T) *Bus {
	t.Helper()
	ns, err := StartEmbedded(-1)
	require.NoError(t, err)
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})

	bus, err := Connect(config.EventsConfig{URL: ns.ClientURL(), SubjectPrefix: "test"}, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestSubject(t *testing.T) {
	tests := []struct {
		name   string
		taskID string
		kind   Kind
		want   string
	}{
		{"plain", "PROJ-1", KindStarted, "dc.preprocess.PROJ-1.started"},
		{"dots", "a.b", KindCompleted, "dc.preprocess.a_b.completed"},
		{"wildcards", "x*>y", KindFailed, "dc.preprocess.x__y.failed"},
		{"spaces", "has space", KindFailed, "dc.preprocess.has_space.failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Subject("dc", tt.taskID, tt.kind))
		})
	}
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Publish(context.Background(), Event{Kind: KindStarted, TaskID: "X-1"}))
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus := startTestBus(t)

	got := make(chan Event, 4)
	sub, err := bus.Subscribe(KindCompleted, func(e Event) { got <- e })
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, bus.Flush())

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, Event{Kind: KindStarted, TaskID: "PROJ-1", RunID: "r1"}))
	require.NoError(t, bus.Publish(ctx, Event{Kind: KindCompleted, TaskID: "PROJ-1", RunID: "r1", QualityScore: 0.8, Gaps: 1}))
	require.NoError(t, bus.Flush())

	select {
	case e := <-got:
		assert.Equal(t, KindCompleted, e.Kind)
		assert.Equal(t, "PROJ-1", e.TaskID)
		assert.Equal(t, "r1", e.RunID)
		assert.InDelta(t, 0.8, e.QualityScore, 1e-9)
		assert.Equal(t, 1, e.Gaps)
		assert.False(t, e.At.IsZero())
	case <-time.After(5 * time.Second):
		t.Fatal("completed event not delivered")
	}

	// the started event must not reach a completed subscriber
	select {
	case e := <-got:
		t.Fatalf("unexpected event %+v", e)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBus_SubscribeDropsMalformed(t *testing.T) {
	bus := startTestBus(t)

	got := make(chan Event, 1)
	sub, err := bus.Subscribe(KindFailed, func(e Event) { got <- e })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, bus.conn.Publish("test.preprocess.X-1.failed", []byte("not json")))
	require.NoError(t, bus.Publish(context.Background(), Event{Kind: KindFailed, TaskID: "X-2", Error: "boom"}))
	require.NoError(t, bus.Flush())

	select {
	case e := <-got:
		assert.Equal(t, "X-2", e.TaskID)
		assert.Equal(t, "boom", e.Error)
	case <-time.After(5 * time.Second):
		t.Fatal("failed event not delivered")
	}
}

func TestNewBus_NilLogger(t *testing.T) {
	ns, err := StartEmbedded(-1)
	require.NoError(t, err)
	defer ns.Shutdown()

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	bus := NewBus(nc, "p", nil)
	assert.NotNil(t, bus.logger)
	assert.NoError(t, bus.Close())
}
