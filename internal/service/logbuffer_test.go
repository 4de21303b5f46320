package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogBuffer_EvictsOldestFirst(t *testing.T) {
	b := newLogBuffer(3)
	for i := 1; i <= 5; i++ {
		b.append(fmt.Sprintf("line %d", i))
	}
	assert.Equal(t, []string{"line 3", "line 4", "line 5"}, b.snapshot())
}

func TestLogBuffer_NeverExceedsLimit(t *testing.T) {
	const limit = 100
	b := newLogBuffer(limit)
	for i := 0; i < 1000; i++ {
		b.append(fmt.Sprintf("%d", i))
		require.LessOrEqual(t, len(b.snapshot()), limit)
	}
	got := b.snapshot()
	assert.Equal(t, "900", got[0])
	assert.Equal(t, "999", got[limit-1])
}

func TestLogBuffer_SnapshotIsCopy(t *testing.T) {
	b := newLogBuffer(2)
	b.append("a")
	snap := b.snapshot()
	snap[0] = "changed"
	assert.Equal(t, []string{"a"}, b.snapshot())
}

func TestLogBuffer_Subscribe(t *testing.T) {
	b := newLogBuffer(10)
	ch, unsubscribe := b.subscribe()

	b.append("hello")
	assert.Equal(t, "hello", <-ch)

	unsubscribe()
	unsubscribe()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestLogBuffer_CloseEndsSubscriptions(t *testing.T) {
	b := newLogBuffer(10)
	ch, _ := b.subscribe()
	b.close()

	_, ok := <-ch
	assert.False(t, ok)

	late, _ := b.subscribe()
	_, ok = <-late
	assert.False(t, ok)

	b.append("still buffered")
	assert.Equal(t, []string{"still buffered"}, b.snapshot())
}

func TestLogBuffer_FollowHasNoGapOrRepeat(t *testing.T) {
	const total = 100
	b := newLogBuffer(total)
	half := make(chan struct{})
	go func() {
		for i := 0; i < total; i++ {
			if i == total/2 {
				close(half)
			}
			b.append(fmt.Sprintf("%d", i))
		}
	}()

	<-half
	backlog, ch, unsubscribe := b.follow()
	defer unsubscribe()

	got := append([]string{}, backlog...)
	for len(got) < total {
		select {
		case line := <-ch:
			got = append(got, line)
		case <-time.After(2 * time.Second):
			t.Fatalf("stream stalled after %d lines", len(got))
		}
	}

	for i, line := range got {
		require.Equal(t, fmt.Sprintf("%d", i), line)
	}
}

func TestLogBuffer_FollowClosedBuffer(t *testing.T) {
	b := newLogBuffer(10)
	b.append("last")
	b.close()

	backlog, ch, _ := b.follow()
	assert.Equal(t, []string{"last"}, backlog)
	_, ok := <-ch
	assert.False(t, ok)
}
