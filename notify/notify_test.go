package notify

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenerCoalescesCounts(t *testing.T) {
	l := NewListener()

	l.Available(3)
	l.Available(2)
	l.Available(0) // valid no-op signal

	assert.Equal(t, 5, l.Pending())

	n, err := l.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 0, l.Pending())
}

func TestListenerWaitBlocksUntilSignal(t *testing.T) {
	l := NewListener()

	done := make(chan int, 1)
	go func() {
		n, err := l.Wait(context.Background())
		if err == nil {
			done <- n
		}
	}()

	time.Sleep(10 * time.Millisecond)
	l.Available(7)

	select {
	case n := <-done:
		assert.Equal(t, 7, n)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not wake on Available")
	}
}

func TestListenerWaitHonorsContext(t *testing.T) {
	l := NewListener()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := l.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestListenerDeliversCountBeforeFailure(t *testing.T) {
	l := NewListener()

	l.Available(2)
	l.Failed(fmt.Errorf("merge pass aborted"))

	n, err := l.Wait(context.Background())
	require.NoError(t, err, "records available before the failure come first")
	assert.Equal(t, 2, n)

	_, err = l.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "merge pass aborted")
}

func TestMultiFansOut(t *testing.T) {
	a := NewListener()
	b := NewListener()
	m := Multi{a, b, Nop{}}

	m.Available(4)
	m.Failed(fmt.Errorf("boom"))

	assert.Equal(t, 4, a.Pending())
	assert.Equal(t, 4, b.Pending())
}
