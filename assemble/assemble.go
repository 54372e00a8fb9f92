// Package assemble reassembles annotated frames into a video artifact and
// hands it to the external transcoder for browser compatibility.
package assemble

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"crowd-density/common/log"
	"crowd-density/media"
)

// Assembler feeds annotated rgb24 frames into an ffmpeg encode pipe, in
// original order.
type Assembler struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer

	outPath string
	width   int
	height  int
	frames  int
}

// New starts the encoder for an output mp4 at the given dimensions and
// frame rate.
func New(ctx context.Context, outPath string, width, height int, fps float64) (*Assembler, error) {
	if fps <= 0 {
		fps = 1
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-v", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", fmt.Sprintf("%.4f", fps),
		"-i", "-",
		"-c:v", "mpeg4",
		"-q:v", "5",
		"-y",
		outPath,
	)

	a := &Assembler{
		cmd:     cmd,
		outPath: outPath,
		width:   width,
		height:  height,
	}
	cmd.Stderr = &a.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "creating ffmpeg stdin pipe")
	}
	a.stdin = stdin

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "starting ffmpeg encoder")
	}
	return a, nil
}

// WriteFrame appends one frame. Frames must match the assembler dimensions.
func (a *Assembler) WriteFrame(frame *image.RGBA) error {
	bounds := frame.Bounds()
	if bounds.Dx() != a.width || bounds.Dy() != a.height {
		return errors.Errorf("frame size %dx%d does not match output %dx%d",
			bounds.Dx(), bounds.Dy(), a.width, a.height)
	}
	if _, err := a.stdin.Write(media.RGBBytes(frame)); err != nil {
		return errors.Wrap(err, "writing frame to encoder")
	}
	a.frames++
	return nil
}

// Finish closes the pipe and waits for the encoder. The artifact is only
// valid when Finish returns nil.
func (a *Assembler) Finish() error {
	if err := a.stdin.Close(); err != nil {
		return errors.Wrap(err, "closing encoder pipe")
	}
	if err := a.cmd.Wait(); err != nil {
		return errors.Wrapf(err, "encoder failed: %s", strings.TrimSpace(a.stderr.String()))
	}
	if a.frames == 0 {
		return errors.New("no frames written to encoder")
	}
	return nil
}

// Abort kills the encoder and removes the partial artifact. Used on job
// cancellation so no partial output is surfaced.
func (a *Assembler) Abort() {
	a.stdin.Close()
	if a.cmd.Process != nil {
		_ = a.cmd.Process.Kill()
	}
	_ = a.cmd.Wait()
	_ = os.Remove(a.outPath)
}

// Transcode re-encodes the artifact to H.264 for browser playback. The
// transcoder is an external collaborator: when it is unavailable or fails,
// the untranscoded artifact stands and webPlayable is false. Playability
// degradation is non-fatal.
func Transcode(ctx context.Context, path string) (webPlayable bool) {
	tmpPath := path + ".h264.mp4"

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-v", "error",
		"-i", path,
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "23",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		"-y",
		tmpPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		log.Warn("transcode to H.264 failed, artifact stays in source codec",
			zap.String("path", path),
			zap.String("stderr", strings.TrimSpace(stderr.String())),
			zap.Error(err))
		_ = os.Remove(tmpPath)
		return false
	}

	info, err := os.Stat(tmpPath)
	if err != nil || info.Size() == 0 {
		log.Warn("transcode produced no output, artifact stays in source codec",
			zap.String("path", path))
		_ = os.Remove(tmpPath)
		return false
	}

	if err := os.Rename(tmpPath, path); err != nil {
		log.Warn("replacing artifact with transcoded version failed",
			zap.String("path", path), zap.Error(err))
		_ = os.Remove(tmpPath)
		return false
	}
	return true
}
