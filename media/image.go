package media

import (
	"context"
	"image"
	"image/draw"
	"io"
	"os"

	// Decoders for the supported still-image formats.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"crowd-density/common"
)

// imageSource yields exactly one frame.
type imageSource struct {
	frame *Frame
	done  bool
}

func openImage(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, common.NewCorruptMedia("cannot open image file", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		if err == image.ErrFormat {
			return nil, common.NewUnsupportedMedia("unknown image format", err)
		}
		return nil, common.NewCorruptMedia("cannot decode image", err)
	}

	return &imageSource{frame: &Frame{Image: toRGBA(img)}}, nil
}

func (s *imageSource) Next(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.done {
		return nil, io.EOF
	}
	s.done = true
	return s.frame, nil
}

func (s *imageSource) FrameRate() float64 { return 0 }
func (s *imageSource) TotalFrames() int   { return 1 }
func (s *imageSource) Close() error       { return nil }

// toRGBA converts any decoded image into RGBA for drawing.
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)
	return rgba
}
