// Package detect calls the external person-detection capability once per
// frame and normalizes its results into bounding boxes. The detection model
// itself is an external collaborator; tests swap in a deterministic stub.
package detect

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	xdraw "golang.org/x/image/draw"

	"crowd-density/common"
)

// Detector is the injected detection capability: one synchronous call per
// frame.
type Detector interface {
	Detect(ctx context.Context, frame *image.RGBA) ([]common.BoundingBox, error)
}

// inferenceRequest is the request to the inference server.
type inferenceRequest struct {
	Image     string `json:"image"` // base64 encoded JPEG
	ModelType string `json:"model_type"`
}

// inferenceResponse is the inference server's reply. Locations are
// normalized to [0,1].
type inferenceResponse struct {
	LogID   string            `json:"log_id"`
	Errno   int               `json:"errno"`
	ErrMsg  string            `json:"err_msg"`
	Results []detectionResult `json:"results"`
}

type detectionResult struct {
	Score    float64 `json:"score"`
	Location struct {
		Left   float64 `json:"left"`
		Top    float64 `json:"top"`
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	} `json:"location"`
}

// Options configure the HTTP detector adapter.
type Options struct {
	ServerURL     string
	ModelType     string
	Timeout       time.Duration
	MinConfidence float64
	// MaxFrameEdge downscales frames whose longest edge exceeds it before
	// the wire trip. Zero disables scaling.
	MaxFrameEdge int
}

// HTTPDetector talks to the external inference server over HTTP JSON.
type HTTPDetector struct {
	opts   Options
	client *http.Client
}

func NewHTTPDetector(opts Options) *HTTPDetector {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.ModelType == "" {
		opts.ModelType = "person"
	}
	return &HTTPDetector{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
	}
}

// Detect sends one frame to the inference server and returns pixel-space
// bounding boxes relative to the original frame size.
func (d *HTTPDetector) Detect(ctx context.Context, frame *image.RGBA) ([]common.BoundingBox, error) {
	bounds := frame.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	wire := downscale(frame, d.opts.MaxFrameEdge)

	var jpegBuf bytes.Buffer
	if err := jpeg.Encode(&jpegBuf, wire, &jpeg.Options{Quality: 90}); err != nil {
		return nil, errors.Wrap(err, "encoding frame for detector")
	}

	reqBody, err := json.Marshal(inferenceRequest{
		Image:     base64.StdEncoding.EncodeToString(jpegBuf.Bytes()),
		ModelType: d.opts.ModelType,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshaling detector request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.opts.ServerURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "creating detector request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "calling inference server")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading detector response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference server returned status %d: %s", resp.StatusCode, truncate(body, 200))
	}
	// An HTML body means we hit a proxy or error page, not the service.
	if len(body) > 0 && body[0] == '<' {
		return nil, fmt.Errorf("inference server returned HTML instead of JSON at %s", d.opts.ServerURL)
	}

	var response inferenceResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("parsing detector response: %v (preview: %s)", err, truncate(body, 200))
	}
	if response.Errno != 0 {
		return nil, fmt.Errorf("inference failed: %s (errno %d)", response.ErrMsg, response.Errno)
	}

	// The server returns normalized [0,1] coordinates; convert to pixels of
	// the original frame and clamp to its bounds.
	boxes := make([]common.BoundingBox, 0, len(response.Results))
	for _, result := range response.Results {
		if result.Score < d.opts.MinConfidence || result.Location.Left < 0 {
			continue
		}

		x1 := int(result.Location.Left * float64(width))
		y1 := int(result.Location.Top * float64(height))
		x2 := int((result.Location.Left + result.Location.Width) * float64(width))
		y2 := int((result.Location.Top + result.Location.Height) * float64(height))

		x1 = clamp(x1, 0, width)
		y1 = clamp(y1, 0, height)
		x2 = clamp(x2, 0, width)
		y2 = clamp(y2, 0, height)
		if x2 <= x1 || y2 <= y1 {
			continue
		}

		boxes = append(boxes, common.BoundingBox{
			X:          x1,
			Y:          y1,
			W:          x2 - x1,
			H:          y2 - y1,
			Confidence: result.Score,
		})
	}

	return boxes, nil
}

// downscale shrinks a frame so its longest edge fits maxEdge, preserving
// aspect ratio. Returns the input unchanged when it already fits.
func downscale(frame *image.RGBA, maxEdge int) *image.RGBA {
	if maxEdge <= 0 {
		return frame
	}
	bounds := frame.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	longest := width
	if height > longest {
		longest = height
	}
	if longest <= maxEdge {
		return frame
	}

	scale := float64(maxEdge) / float64(longest)
	dst := image.NewRGBA(image.Rect(0, 0, int(float64(width)*scale), int(float64(height)*scale)))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), frame, bounds, xdraw.Over, nil)
	return dst
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
