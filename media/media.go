// Package media decodes uploaded images and videos into frames. A Source is
// a lazy, finite, non-restartable frame sequence; video sources apply the
// configured sampling policy.
package media

import (
	"context"
	"image"
	"path/filepath"
	"strings"
	"time"

	"crowd-density/common"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
}

var videoExtensions = map[string]bool{
	".mp4": true,
	".avi": true,
	".mov": true,
	".mkv": true,
}

// KindOf classifies a filename by extension. Returns an unsupported-media
// error for anything outside the accepted set.
func KindOf(filename string) (common.MediaKind, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch {
	case imageExtensions[ext]:
		return common.MediaKindImage, nil
	case videoExtensions[ext]:
		return common.MediaKindVideo, nil
	default:
		return "", common.NewUnsupportedMedia(ext, nil)
	}
}

// CheckSize enforces the intake size ceiling before any processing begins.
func CheckSize(size, limit int64) error {
	if size > limit {
		return common.NewPayloadTooLarge(size, limit)
	}
	return nil
}

// Frame is one decoded raster plus its position in the source. Timestamp is
// the offset from the start of a video, zero for still images.
type Frame struct {
	Image     *image.RGBA
	Index     int
	Timestamp time.Duration
}

// SamplePolicy bounds video processing cost: take every Interval-th frame,
// and no more than MaxFrames per job regardless of input length.
type SamplePolicy struct {
	Interval  int
	MaxFrames int
}

// Source yields frames one at a time. Next returns io.EOF after the last
// frame. Sources are not restartable.
type Source interface {
	Next(ctx context.Context) (*Frame, error)
	FrameRate() float64
	TotalFrames() int
	Close() error
}

// Open builds a Source for the file according to its declared kind.
func Open(ctx context.Context, path string, kind common.MediaKind, policy SamplePolicy) (Source, error) {
	switch kind {
	case common.MediaKindImage:
		return openImage(path)
	case common.MediaKindVideo:
		return openVideo(ctx, path, policy)
	default:
		return nil, common.NewUnsupportedMedia(string(kind), nil)
	}
}
