package media

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crowd-density/common"
)

// rawFrames builds a packed rgb24 stream of n 2x2 frames, every byte of
// frame i set to byte(i) so tests can tell frames apart.
func rawFrames(n int) []byte {
	const frameBytes = 2 * 2 * 3
	data := make([]byte, 0, n*frameBytes)
	for i := 0; i < n; i++ {
		frame := bytes.Repeat([]byte{byte(i)}, frameBytes)
		data = append(data, frame...)
	}
	return data
}

func rawSource(data []byte, policy SamplePolicy) *videoSource {
	info := &videoInfo{Width: 2, Height: 2, FrameRate: 10, TotalFrames: len(data) / 12}
	return newVideoSource(io.NopCloser(bytes.NewReader(data)), info, policy)
}

func drain(t *testing.T, src *videoSource) []*Frame {
	t.Helper()
	var frames []*Frame
	for {
		frame, err := src.Next(context.Background())
		if err == io.EOF {
			return frames
		}
		require.NoError(t, err)
		frames = append(frames, frame)
	}
}

func TestVideoSamplesEveryKthFrame(t *testing.T) {
	src := rawSource(rawFrames(300), SamplePolicy{Interval: 10, MaxFrames: 300})
	defer src.Close()

	frames := drain(t, src)
	require.Len(t, frames, 30)
	for i, frame := range frames {
		assert.Equal(t, i*10, frame.Index)
		assert.Equal(t, byte(i*10), frame.Image.Pix[0])
	}
	assert.Equal(t, 29*time.Second, frames[29].Timestamp)
}

func TestVideoStopsAtMaxFrames(t *testing.T) {
	src := rawSource(rawFrames(50), SamplePolicy{Interval: 1, MaxFrames: 5})
	defer src.Close()

	frames := drain(t, src)
	require.Len(t, frames, 5)
	assert.Equal(t, 4, frames[4].Index)

	_, err := src.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestVideoTruncatedFirstFrame(t *testing.T) {
	src := rawSource(rawFrames(1)[:7], SamplePolicy{Interval: 1, MaxFrames: 10})
	defer src.Close()

	_, err := src.Next(context.Background())
	require.Error(t, err)
	assert.Equal(t, common.ReasonCorruptMedia, common.ReasonOf(err))
}

func TestVideoTruncatedTail(t *testing.T) {
	data := rawFrames(3)
	src := rawSource(data[:len(data)-5], SamplePolicy{Interval: 1, MaxFrames: 10})
	defer src.Close()

	frames := drain(t, src)
	assert.Len(t, frames, 2)
}

func TestVideoCancelledContext(t *testing.T) {
	src := rawSource(rawFrames(10), SamplePolicy{Interval: 1, MaxFrames: 10})
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
