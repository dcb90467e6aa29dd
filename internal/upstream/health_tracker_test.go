package upstream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHealthTracker_Disabled_TreatsAllUpstreamsHealthyWithoutProbing(t *testing.T) {
	httpClient := unhealthyClient(t) // would fail any probe, proving RunOnce never calls it
	u := New("primary", "https://example.com/", 1, 1, time.Second, httpClient)

	tracker := NewHealthTracker([]*Upstream{u}, time.Minute, false)
	assert.Equal(t, []*Upstream{u}, tracker.Healthy())

	tracker.RunOnce(context.Background())
	assert.Equal(t, []*Upstream{u}, tracker.Healthy(), "RunOnce must stay a no-op when disabled")
}

func TestHealthTracker_Disabled_LoopReturnsImmediately(t *testing.T) {
	u := New("primary", "https://example.com/", 1, 1, time.Second, unhealthyClient(t))
	tracker := NewHealthTracker([]*Upstream{u}, time.Millisecond, false)

	done := make(chan struct{})

	go func() {
		tracker.Loop(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Loop did not return immediately when health checks are disabled")
	}
}

func TestHealthTracker_Enabled_StartsEmptyUntilProbed(t *testing.T) {
	u := New("primary", "https://example.com/", 1, 1, time.Second, healthyClient(t))
	tracker := NewHealthTracker([]*Upstream{u}, time.Minute, true)

	assert.Empty(t, tracker.Healthy())

	tracker.RunOnce(context.Background())
	assert.Equal(t, []*Upstream{u}, tracker.Healthy())
}
