package media

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crowd-density/common"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		filename string
		kind     common.MediaKind
		wantErr  bool
	}{
		{"crowd.jpg", common.MediaKindImage, false},
		{"crowd.JPEG", common.MediaKindImage, false},
		{"crowd.png", common.MediaKindImage, false},
		{"crowd.gif", common.MediaKindImage, false},
		{"clip.mp4", common.MediaKindVideo, false},
		{"clip.AVI", common.MediaKindVideo, false},
		{"clip.mov", common.MediaKindVideo, false},
		{"clip.mkv", common.MediaKindVideo, false},
		{"notes.txt", "", true},
		{"archive.zip", "", true},
		{"noextension", "", true},
	}

	for _, tc := range tests {
		kind, err := KindOf(tc.filename)
		if tc.wantErr {
			require.Error(t, err, tc.filename)
			assert.Equal(t, common.ReasonUnsupportedMedia, common.ReasonOf(err))
			continue
		}
		require.NoError(t, err, tc.filename)
		assert.Equal(t, tc.kind, kind, tc.filename)
	}
}

func TestCheckSize(t *testing.T) {
	assert.NoError(t, CheckSize(100, 100))
	assert.NoError(t, CheckSize(0, 100))

	err := CheckSize(101, 100)
	require.Error(t, err)
	assert.Equal(t, common.ReasonPayloadTooLarge, common.ReasonOf(err))
}

func writeTestPNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 0, 255})
		}
	}
	path := filepath.Join(t.TempDir(), "frame.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func TestImageSourceYieldsOneFrame(t *testing.T) {
	path := writeTestPNG(t, 40, 30)

	src, err := Open(context.Background(), path, common.MediaKindImage, SamplePolicy{})
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, 1, src.TotalFrames())
	assert.Equal(t, 0.0, src.FrameRate())

	frame, err := src.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, frame.Image)
	assert.Equal(t, 40, frame.Image.Bounds().Dx())
	assert.Equal(t, 30, frame.Image.Bounds().Dy())
	assert.Equal(t, 0, frame.Index)

	_, err = src.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestImageSourceCancelledContext(t *testing.T) {
	path := writeTestPNG(t, 8, 8)

	src, err := Open(context.Background(), path, common.MediaKindImage, SamplePolicy{})
	require.NoError(t, err)
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenCorruptImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.png")
	header := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0xDE, 0xAD, 0xBE, 0xEF}
	require.NoError(t, os.WriteFile(path, header, 0o644))

	_, err := Open(context.Background(), path, common.MediaKindImage, SamplePolicy{})
	require.Error(t, err)
	assert.Equal(t, common.ReasonCorruptMedia, common.ReasonOf(err))
}

func TestOpenCorruptImageIsDeterministic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.jpg")
	require.NoError(t, os.WriteFile(path, []byte("not a jpeg at all"), 0o644))

	first := common.ReasonOf(openFailure(t, path))
	second := common.ReasonOf(openFailure(t, path))
	assert.Equal(t, first, second)
}

func openFailure(t *testing.T, path string) error {
	t.Helper()
	_, err := Open(context.Background(), path, common.MediaKindImage, SamplePolicy{})
	require.Error(t, err)
	return err
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "absent.png"), common.MediaKindImage, SamplePolicy{})
	require.Error(t, err)
	assert.Equal(t, common.ReasonCorruptMedia, common.ReasonOf(err))
}

func TestRGBBytesRoundTrip(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{10, 20, 30, 255})
	img.Set(1, 0, color.RGBA{40, 50, 60, 255})
	img.Set(0, 1, color.RGBA{70, 80, 90, 255})
	img.Set(1, 1, color.RGBA{100, 110, 120, 255})

	rgb := RGBBytes(img)
	require.Len(t, rgb, 12)
	assert.Equal(t, []byte{10, 20, 30, 40, 50, 60, 70, 80, 90, 100, 110, 120}, rgb)
}
