package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu       sync.Mutex
	messages []Event
	subjects []string
	fail     bool
}

func (p *fakePublisher) Publish(_ context.Context, subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return fmt.Errorf("publish failed")
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	p.messages = append(p.messages, ev)
	p.subjects = append(p.subjects, subject)
	return nil
}

func TestNATSNotifierPublishesAvailability(t *testing.T) {
	pub := &fakePublisher{}
	n := NewNATSNotifier(pub, "timemerge.available", "engine-1", slog.Default())

	n.Available(3)
	n.Available(0) // not published
	n.Available(2)

	require.Len(t, pub.messages, 2)
	assert.Equal(t, "timemerge.available", pub.subjects[0])
	assert.Equal(t, 3, pub.messages[0].Count)
	assert.Equal(t, 2, pub.messages[1].Count)
	assert.Equal(t, "engine-1", pub.messages[0].Source)
	assert.NotEmpty(t, pub.messages[0].ID)
	assert.False(t, pub.messages[0].Timestamp.IsZero())
}

func TestNATSNotifierPublishesFailures(t *testing.T) {
	pub := &fakePublisher{}
	n := NewNATSNotifier(pub, "timemerge.available", "engine-1", nil)

	n.Failed(fmt.Errorf("merge pass failed"))
	n.Failed(nil) // not published

	require.Len(t, pub.messages, 1)
	assert.Equal(t, "merge pass failed", pub.messages[0].Error)
	assert.Zero(t, pub.messages[0].Count)
}

func TestNATSNotifierDropsOnPublishFailure(t *testing.T) {
	pub := &fakePublisher{fail: true}
	n := NewNATSNotifier(pub, "timemerge.available", "", nil)

	// Must not panic or block; the failure is logged and dropped.
	n.Available(1)
	assert.Empty(t, pub.messages)
}

func TestNATSNotifierGeneratesSourceID(t *testing.T) {
	pub := &fakePublisher{}
	n := NewNATSNotifier(pub, "s", "", nil)
	n.Available(1)
	require.Len(t, pub.messages, 1)
	assert.NotEmpty(t, pub.messages[0].Source)
}
