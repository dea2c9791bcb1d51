package logstream

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/relay/pkg/schema"
)

func TestStream_AppendPreservesOrder(t *testing.T) {
	s := NewStream("exec-1", nil)
	s.Info("first", "a")
	s.Warning("second", "a")
	s.Error("third", "b")
	s.Success("fourth", "b")

	entries := s.Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, "first", entries[0].Message)
	assert.Equal(t, schema.LogLevelInfo, entries[0].Level)
	assert.Equal(t, "second", entries[1].Message)
	assert.Equal(t, schema.LogLevelWarning, entries[1].Level)
	assert.Equal(t, "third", entries[2].Message)
	assert.Equal(t, schema.LogLevelError, entries[2].Level)
	assert.Equal(t, "fourth", entries[3].Message)
	assert.Equal(t, schema.LogLevelSuccess, entries[3].Level)
	assert.Equal(t, "b", entries[3].AgentID)
	assert.False(t, entries[0].Timestamp.IsZero())
}

func TestStream_EntriesReturnsCopy(t *testing.T) {
	s := NewStream("exec-1", nil)
	s.Info("one", "")

	got := s.Entries()
	got[0].Message = "mutated"

	assert.Equal(t, "one", s.Entries()[0].Message)
}

func TestHub_SubscribeByExecution(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("exec-1")
	defer cancel()

	s1 := NewStream("exec-1", hub)
	s2 := NewStream("exec-2", hub)
	s1.Info("mine", "a")
	s2.Info("not mine", "b")

	select {
	case got := <-ch:
		assert.Equal(t, "mine", got.Message)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for entry")
	}

	select {
	case got := <-ch:
		t.Fatalf("unexpected entry from another run: %q", got.Message)
	default:
	}
}

func TestHub_EmptyFilterReceivesAll(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("")
	defer cancel()

	NewStream("exec-1", hub).Info("one", "")
	NewStream("exec-2", hub).Info("two", "")

	for i := 0; i < 2; i++ {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for entry")
		}
	}
}

func TestHub_CancelStopsDelivery(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("exec-1")
	cancel()

	NewStream("exec-1", hub).Info("late", "")
	select {
	case got, ok := <-ch:
		if ok {
			t.Fatalf("received entry after cancel: %q", got.Message)
		}
	default:
	}
}

func TestHub_SlowSubscriberDropsEntries(t *testing.T) {
	hub := NewHub()
	_, cancel := hub.Subscribe("exec-1")
	defer cancel()

	s := NewStream("exec-1", hub)
	// Nobody drains: publishing past the buffer must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultChannelBuffer*2; i++ {
			s.Info(fmt.Sprintf("entry %d", i), "")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	// The durable record keeps everything regardless of drops.
	assert.Len(t, s.Entries(), defaultChannelBuffer*2)
}

func TestStream_ConcurrentAppends(t *testing.T) {
	s := NewStream("exec-1", nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				s.Info("entry", "a")
			}
		}()
	}
	wg.Wait()

	assert.Len(t, s.Entries(), 200)
}
