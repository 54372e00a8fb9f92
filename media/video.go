package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"crowd-density/common"
)

// videoInfo is the probed container metadata a video source is built from.
type videoInfo struct {
	Width       int
	Height      int
	FrameRate   float64
	TotalFrames int
}

type ffprobeOutput struct {
	Streams []struct {
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		NbFrames   string `json:"nb_frames"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// probeVideo reads container metadata with ffprobe. Frame count falls back
// to duration * fps when the container does not carry it.
func probeVideo(ctx context.Context, path string) (*videoInfo, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_streams",
		"-show_format",
		"-print_format", "json",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, classifyFFError(stderr.String(), err)
	}

	var probe ffprobeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return nil, common.NewCorruptMedia("cannot parse ffprobe output", err)
	}
	if len(probe.Streams) == 0 {
		return nil, common.NewCorruptMedia("no video stream found", nil)
	}

	stream := probe.Streams[0]
	if stream.Width <= 0 || stream.Height <= 0 {
		return nil, common.NewCorruptMedia(
			fmt.Sprintf("invalid resolution %dx%d", stream.Width, stream.Height), nil)
	}

	fps := parseFrameRate(stream.RFrameRate)
	if fps <= 0 {
		fps = 25
	}

	total := 0
	if n, err := strconv.Atoi(stream.NbFrames); err == nil {
		total = n
	} else if d, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
		total = int(math.Round(d * fps))
	}

	return &videoInfo{
		Width:       stream.Width,
		Height:      stream.Height,
		FrameRate:   fps,
		TotalFrames: total,
	}, nil
}

// parseFrameRate parses ffprobe's fractional rate form, e.g. "30000/1001".
func parseFrameRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		f, _ := strconv.ParseFloat(s, 64)
		return f
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

// classifyFFError maps an ffmpeg/ffprobe failure onto the media error
// taxonomy using its stderr output.
func classifyFFError(stderr string, err error) error {
	msg := strings.TrimSpace(stderr)
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "invalid data") ||
		strings.Contains(lower, "moov atom not found") ||
		strings.Contains(lower, "truncat") {
		return common.NewCorruptMedia(msg, err)
	}
	return common.NewUnsupportedMedia(msg, err)
}

// videoSource reads rgb24 raw frames from an ffmpeg decode pipe and yields
// every Interval-th one, bounded by MaxFrames.
type videoSource struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
	cancel context.CancelFunc

	info          *videoInfo
	policy        SamplePolicy
	bytesPerFrame int
	buf           []byte

	nextIndex int
	sampled   int
	closed    bool
}

// newVideoSource wraps an rgb24 frame stream. The stream is normally an
// ffmpeg decode pipe but any reader producing packed frames works.
func newVideoSource(stream io.ReadCloser, info *videoInfo, policy SamplePolicy) *videoSource {
	src := &videoSource{
		stdout:        stream,
		info:          info,
		policy:        policy,
		bytesPerFrame: info.Width * info.Height * 3,
	}
	src.buf = make([]byte, src.bytesPerFrame)
	return src
}

func openVideo(ctx context.Context, path string, policy SamplePolicy) (Source, error) {
	if policy.Interval <= 0 || policy.MaxFrames <= 0 {
		return nil, errors.Errorf("invalid sample policy: interval=%d max=%d", policy.Interval, policy.MaxFrames)
	}

	info, err := probeVideo(ctx, path)
	if err != nil {
		return nil, err
	}

	pipeCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(pipeCtx, "ffmpeg",
		"-v", "error",
		"-i", path,
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-",
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "creating ffmpeg stdout pipe")
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, errors.Wrap(err, "starting ffmpeg decoder")
	}

	src := newVideoSource(stdout, info, policy)
	src.cmd = cmd
	src.cancel = cancel
	src.stderr = &stderr
	return src, nil
}

func (s *videoSource) Next(ctx context.Context) (*Frame, error) {
	if s.closed {
		return nil, io.EOF
	}
	if s.sampled >= s.policy.MaxFrames {
		return nil, io.EOF
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		_, err := io.ReadFull(s.stdout, s.buf)
		if err != nil {
			if err == io.EOF {
				return nil, s.finish()
			}
			if err == io.ErrUnexpectedEOF {
				// Partial frame at the very start means garbled data; at the
				// tail it is just the stream ending.
				if s.nextIndex == 0 {
					return nil, common.NewCorruptMedia("truncated frame data", err)
				}
				return nil, s.finish()
			}
			return nil, errors.Wrap(err, "reading frame from ffmpeg")
		}

		index := s.nextIndex
		s.nextIndex++

		if index%s.policy.Interval != 0 {
			continue
		}

		s.sampled++
		frame := &Frame{
			Image:     rgbToRGBA(s.buf, s.info.Width, s.info.Height),
			Index:     index,
			Timestamp: time.Duration(float64(index) / s.info.FrameRate * float64(time.Second)),
		}
		return frame, nil
	}
}

// finish waits for ffmpeg and converts a decode failure into the media
// error taxonomy. A clean exit is plain end-of-stream.
func (s *videoSource) finish() error {
	if s.cmd == nil {
		return io.EOF
	}
	if err := s.cmd.Wait(); err != nil {
		if s.nextIndex == 0 {
			return classifyFFError(s.stderr.String(), err)
		}
		return common.NewCorruptMedia(strings.TrimSpace(s.stderr.String()), err)
	}
	return io.EOF
}

func (s *videoSource) FrameRate() float64 { return s.info.FrameRate }
func (s *videoSource) TotalFrames() int   { return s.info.TotalFrames }

func (s *videoSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	s.stdout.Close()
	if s.cmd != nil {
		_ = s.cmd.Wait()
	}
	return nil
}

// rgbToRGBA expands a packed rgb24 frame into an RGBA raster.
func rgbToRGBA(data []byte, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		src := y * width * 3
		dst := y * img.Stride
		for x := 0; x < width; x++ {
			img.Pix[dst] = data[src]
			img.Pix[dst+1] = data[src+1]
			img.Pix[dst+2] = data[src+2]
			img.Pix[dst+3] = 0xff
			src += 3
			dst += 4
		}
	}
	return img
}

// rgbaToRGB packs an RGBA raster back into rgb24 bytes for the assembler's
// encode pipe.
func rgbaToRGB(img *image.RGBA) []byte {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	out := make([]byte, width*height*3)
	for y := 0; y < height; y++ {
		src := img.PixOffset(bounds.Min.X, bounds.Min.Y+y)
		dst := y * width * 3
		for x := 0; x < width; x++ {
			out[dst] = img.Pix[src]
			out[dst+1] = img.Pix[src+1]
			out[dst+2] = img.Pix[src+2]
			src += 4
			dst += 3
		}
	}
	return out
}

// RGBBytes exposes the rgb24 packing for the video assembler.
func RGBBytes(img *image.RGBA) []byte { return rgbaToRGB(img) }
