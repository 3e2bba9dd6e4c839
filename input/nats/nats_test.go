package nats

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/timemerge/errors"
	"github.com/c360/timemerge/input"
	"github.com/c360/timemerge/natsclient"
	"github.com/c360/timemerge/record"
)

type fakeSubmitter struct {
	mu      sync.Mutex
	submits []input.Envelope
	errFor  map[uint64]error
}

func (f *fakeSubmitter) Submit(channel string, ts record.Timestamp, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errFor[uint64(ts)]; ok {
		return err
	}
	f.submits = append(f.submits, input.Envelope{
		Channel:   channel,
		Timestamp: uint64(ts),
		Payload:   payload,
	})
	return nil
}

func envelope(t *testing.T, ch string, ts uint64) []byte {
	t.Helper()
	data, err := json.Marshal(input.Envelope{Channel: ch, Timestamp: ts, Payload: []byte("p")})
	require.NoError(t, err)
	return data
}

func newTestInput(sub *fakeSubmitter) *Input {
	client, _ := natsclient.NewClient("nats://localhost:4222")
	return NewInput(InputDeps{
		Name:       "ingest",
		Subject:    "timemerge.records",
		Submitter:  sub,
		NATSClient: client,
	})
}

func TestMetaAndInitialize(t *testing.T) {
	in := newTestInput(&fakeSubmitter{})

	meta := in.Meta()
	assert.Equal(t, "ingest", meta.Name)
	assert.Equal(t, "input", meta.Type)

	require.NoError(t, in.Initialize())
}

func TestInitializeRejectsMissingDeps(t *testing.T) {
	client, _ := natsclient.NewClient("nats://localhost:4222")

	in := NewInput(InputDeps{Subject: "", Submitter: &fakeSubmitter{}, NATSClient: client})
	assert.Error(t, in.Initialize())

	in = NewInput(InputDeps{Subject: "s", Submitter: &fakeSubmitter{}})
	assert.Error(t, in.Initialize())

	in = NewInput(InputDeps{Subject: "s", NATSClient: client})
	assert.Error(t, in.Initialize())
}

func TestHandleMessageSubmitsEnvelope(t *testing.T) {
	sub := &fakeSubmitter{}
	in := newTestInput(sub)
	in.running.Store(true)

	in.handleMessage(envelope(t, "a", 7))

	require.Len(t, sub.submits, 1)
	assert.Equal(t, "a", sub.submits[0].Channel)
	assert.EqualValues(t, 7, sub.submits[0].Timestamp)
	assert.EqualValues(t, 1, in.received.Load())
}

func TestHandleMessageDropsMalformedEnvelope(t *testing.T) {
	sub := &fakeSubmitter{}
	in := newTestInput(sub)
	in.running.Store(true)

	in.handleMessage([]byte("{not json"))
	in.handleMessage([]byte(`{"timestamp": 5}`)) // missing channel

	assert.Empty(t, sub.submits)
	assert.EqualValues(t, 2, in.rejected.Load())
}

func TestHandleMessageDropsOutOfOrder(t *testing.T) {
	sub := &fakeSubmitter{errFor: map[uint64]error{
		3: errors.WrapInvalid(errors.ErrOutOfOrder, "Tracker", "Update", "timestamp check"),
	}}
	in := newTestInput(sub)
	in.running.Store(true)

	in.handleMessage(envelope(t, "a", 5))
	in.handleMessage(envelope(t, "a", 3))
	in.handleMessage(envelope(t, "a", 6))

	// The regression is dropped without poisoning the subscription.
	require.Len(t, sub.submits, 2)
	assert.EqualValues(t, 1, in.rejected.Load())
	assert.EqualValues(t, 0, in.errors.Load())
}

func TestHandleMessageCountsSubmitFailures(t *testing.T) {
	sub := &fakeSubmitter{errFor: map[uint64]error{
		4: fmt.Errorf("engine degraded"),
	}}
	in := newTestInput(sub)
	in.running.Store(true)

	in.handleMessage(envelope(t, "a", 4))

	assert.EqualValues(t, 1, in.errors.Load())
	health := in.Health()
	assert.Equal(t, 1, health.ErrorCount)
	assert.Contains(t, health.LastError, "engine degraded")
}

func TestStopMarksDown(t *testing.T) {
	in := newTestInput(&fakeSubmitter{})
	in.running.Store(true)
	in.startTime = time.Now()

	require.NoError(t, in.Stop(time.Second))
	assert.False(t, in.Health().Healthy)

	// Idempotent.
	require.NoError(t, in.Stop(time.Second))
}
