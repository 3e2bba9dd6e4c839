package watermark

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/timemerge/errors"
)

func TestWatermarkAbsentUntilEveryChannelReports(t *testing.T) {
	tr := NewTracker("a", "b")

	_, ok := tr.Watermark()
	assert.False(t, ok, "no channel has reported")

	require.NoError(t, tr.Update("a", 3))
	_, ok = tr.Watermark()
	assert.False(t, ok, "channel b is still silent")

	require.NoError(t, tr.Update("b", 5))
	wm, ok := tr.Watermark()
	require.True(t, ok)
	assert.EqualValues(t, 3, wm)
}

func TestWatermarkFollowsSlowestChannel(t *testing.T) {
	tr := NewTracker()

	require.NoError(t, tr.Update("dense", 10))
	require.NoError(t, tr.Update("sparse", 4))
	require.NoError(t, tr.Update("dense", 20))
	require.NoError(t, tr.Update("dense", 30))

	wm, ok := tr.Watermark()
	require.True(t, ok)
	assert.EqualValues(t, 4, wm, "watermark is driven by the slowest channel")

	require.NoError(t, tr.Update("sparse", 25))
	wm, _ = tr.Watermark()
	assert.EqualValues(t, 25, wm)
}

func TestUpdateRejectsRegression(t *testing.T) {
	tr := NewTracker()
	require.NoError(t, tr.Update("a", 5))

	err := tr.Update("a", 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrOutOfOrder)
	assert.True(t, errors.IsInvalid(err))

	// Rejected update leaves state untouched.
	wm, ok := tr.Watermark()
	require.True(t, ok)
	assert.EqualValues(t, 5, wm)
}

func TestCheckValidatesWithoutRecording(t *testing.T) {
	tr := NewTracker("a", "b")
	require.NoError(t, tr.Update("a", 5))

	// Unknown and unreported channels accept anything.
	assert.NoError(t, tr.Check("c", 1))
	assert.NoError(t, tr.Check("b", 1))

	assert.NoError(t, tr.Check("a", 5))
	err := tr.Check("a", 4)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrOutOfOrder)

	// Check never advances the channel.
	assert.NoError(t, tr.Check("a", 100))
	ws := tr.Channels()
	require.Len(t, ws, 2)
	for _, st := range ws {
		if st.Channel == "a" {
			assert.EqualValues(t, 5, st.Latest)
		}
	}
}

func TestUpdateAllowsEqualTimestamp(t *testing.T) {
	tr := NewTracker()
	require.NoError(t, tr.Update("a", 5))
	require.NoError(t, tr.Update("a", 5))
}

func TestSingleChannelWatermarkTrailsItself(t *testing.T) {
	tr := NewTracker()
	require.NoError(t, tr.Update("only", 7))

	wm, ok := tr.Watermark()
	require.True(t, ok)
	assert.EqualValues(t, 7, wm, "a lone channel's watermark is its own latest timestamp")
}

func TestRemoveUnblocksWatermark(t *testing.T) {
	tr := NewTracker("a", "silent")
	require.NoError(t, tr.Update("a", 9))

	_, ok := tr.Watermark()
	require.False(t, ok)

	tr.Remove("silent")
	wm, ok := tr.Watermark()
	require.True(t, ok)
	assert.EqualValues(t, 9, wm)
}

func TestChannelsSnapshot(t *testing.T) {
	tr := NewTracker("b")
	require.NoError(t, tr.Update("a", 1))

	states := tr.Channels()
	require.Len(t, states, 2)
	assert.Equal(t, "a", states[0].Channel)
	assert.True(t, states[0].Reported)
	assert.Equal(t, "b", states[1].Channel)
	assert.False(t, states[1].Reported)
	assert.Equal(t, 2, tr.Len())
}
