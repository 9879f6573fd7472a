package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversInOrder(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("it_1")
	defer sub.Close()

	bus.Publish("it_1", "a")
	bus.Publish("it_1", "b")
	bus.Publish("it_1", "c")

	for i, want := range []string{"a", "b", "c"} {
		env := <-sub.C
		assert.Equal(t, int64(i+1), env.Seq)
		assert.Equal(t, want, env.Payload)
	}
}

func TestSequenceSurvivesWithoutSubscribers(t *testing.T) {
	bus := NewBus()

	// Published into the void, but the sequence still advances.
	bus.Publish("it_1", "missed")

	sub := bus.Subscribe("it_1")
	defer sub.Close()
	bus.Publish("it_1", "seen")

	env := <-sub.C
	assert.Equal(t, int64(2), env.Seq, "late subscribers observe the gap")
	assert.Equal(t, "seen", env.Payload)
}

func TestTopicsAreIsolated(t *testing.T) {
	bus := NewBus()
	sub1 := bus.Subscribe("it_1")
	defer sub1.Close()
	sub2 := bus.Subscribe("it_2")
	defer sub2.Close()

	bus.Publish("it_1", "only for it_1")

	env := <-sub1.C
	assert.Equal(t, int64(1), env.Seq)
	select {
	case env := <-sub2.C:
		t.Fatalf("it_2 subscriber received %v", env)
	default:
	}
}

func TestSlowSubscriberDropped(t *testing.T) {
	bus := NewBus()
	slow := bus.Subscribe("it_1")
	fast := bus.Subscribe("it_1")
	defer fast.Close()

	// Fill the slow subscriber's buffer without draining, then push one more.
	for i := 0; i <= subscriptionBuffer; i++ {
		bus.Publish("it_1", i)
		<-fast.C
	}

	assert.Equal(t, 1, bus.SubscriberCount("it_1"))

	// The dropped subscription's channel is closed after the buffered
	// backlog drains.
	drained := 0
	for range slow.C {
		drained++
	}
	assert.Equal(t, subscriptionBuffer, drained)

	// The survivor keeps receiving.
	bus.Publish("it_1", "after drop")
	env := <-fast.C
	assert.Equal(t, "after drop", env.Payload)
}

func TestSubscriptionClose(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("it_1")
	require.Equal(t, 1, bus.SubscriberCount("it_1"))

	sub.Close()
	assert.Equal(t, 0, bus.SubscriberCount("it_1"))

	_, open := <-sub.C
	assert.False(t, open)

	// Closing twice is safe.
	sub.Close()
}

func TestPublisherEvents(t *testing.T) {
	bus := NewBus()
	pub := NewPublisher(bus)
	sub := bus.Subscribe("it_1")
	defer sub.Close()

	pub.PublishProgress("it_1", "skeleton_planner", "skeleton", ProgressRunning, 20, "drafting day structure")
	env := <-sub.C
	progress, ok := env.Payload.(AgentProgressEvent)
	require.True(t, ok)
	assert.Equal(t, EventTypeAgentProgress, progress.Type)
	assert.Equal(t, "skeleton_planner", progress.AgentID)
	assert.Equal(t, ProgressRunning, progress.Status)
	assert.Equal(t, 20, progress.Progress)
	assert.NotEmpty(t, progress.UpdatedAt)

	pub.PublishPatch("it_1", 2, 3, nil, "populated attractions", "agent")
	env = <-sub.C
	patch, ok := env.Payload.(PatchEvent)
	require.True(t, ok)
	assert.Equal(t, EventTypePatch, patch.Type)
	assert.Equal(t, 2, patch.FromVersion)
	assert.Equal(t, 3, patch.ToVersion)
	assert.Equal(t, int64(2), env.Seq)
}
