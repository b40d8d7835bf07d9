package transfer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxFIFO(t *testing.T) {
	o := NewOutbox()
	_, ok := o.Pop()
	assert.False(t, ok)

	for _, id := range []string{"A", "B", "C"} {
		require.NoError(t, o.Push(LinkMessage(id)))
	}
	assert.Equal(t, 3, o.Len())
	for _, id := range []string{"A", "B", "C"} {
		select {
		case <-o.Ready():
		case <-time.After(time.Second):
			t.Fatalf("Ready did not fire with %d queued", o.Len())
		}
		m, ok := o.Pop()
		require.True(t, ok)
		assert.Equal(t, id, m.Link)
	}
	assert.Equal(t, 0, o.Len())
}

// Producers on many goroutines never block and nothing is lost.
func TestOutboxManyProducers(t *testing.T) {
	o := NewOutbox()
	const producers = 8
	const each = 500
	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				assert.NoError(t, o.Push(LinkMessage("x")))
			}
		}()
	}
	received := 0
	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	timeout := time.After(5 * time.Second)
	for received < producers*each {
		select {
		case <-o.Ready():
			for {
				if _, ok := o.Pop(); !ok {
					break
				}
				received++
			}
		case <-timeout:
			t.Fatalf("received %d of %d messages", received, producers*each)
		}
	}
	<-finished
	assert.Equal(t, producers*each, received)
}

func TestOutboxClose(t *testing.T) {
	o := NewOutbox()
	require.NoError(t, o.Push(LinkMessage("A")))
	o.Close()
	assert.ErrorIs(t, o.Push(LinkMessage("B")), ErrOutboxClosed)
	_, ok := o.Pop()
	assert.False(t, ok)
}
