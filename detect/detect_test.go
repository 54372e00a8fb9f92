package detect

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubServer(t *testing.T, response string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req inferenceRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req.Image)
		assert.Equal(t, "person", req.ModelType)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(response))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestDetectConvertsNormalizedCoordinates(t *testing.T) {
	server := stubServer(t, `{
		"errno": 0,
		"results": [
			{"score": 0.92, "location": {"left": 0.25, "top": 0.25, "width": 0.5, "height": 0.5}}
		]
	}`)

	detector := NewHTTPDetector(Options{ServerURL: server.URL, MinConfidence: 0.25})
	frame := image.NewRGBA(image.Rect(0, 0, 100, 80))

	boxes, err := detector.Detect(context.Background(), frame)
	require.NoError(t, err)
	require.Len(t, boxes, 1)
	assert.Equal(t, 25, boxes[0].X)
	assert.Equal(t, 20, boxes[0].Y)
	assert.Equal(t, 50, boxes[0].W)
	assert.Equal(t, 40, boxes[0].H)
	assert.Equal(t, 0.92, boxes[0].Confidence)
}

func TestDetectFiltersLowConfidence(t *testing.T) {
	server := stubServer(t, `{
		"errno": 0,
		"results": [
			{"score": 0.9, "location": {"left": 0.1, "top": 0.1, "width": 0.2, "height": 0.2}},
			{"score": 0.1, "location": {"left": 0.5, "top": 0.5, "width": 0.2, "height": 0.2}}
		]
	}`)

	detector := NewHTTPDetector(Options{ServerURL: server.URL, MinConfidence: 0.25})
	frame := image.NewRGBA(image.Rect(0, 0, 100, 100))

	boxes, err := detector.Detect(context.Background(), frame)
	require.NoError(t, err)
	assert.Len(t, boxes, 1)
}

func TestDetectClampsOutOfBoundsBoxes(t *testing.T) {
	server := stubServer(t, `{
		"errno": 0,
		"results": [
			{"score": 0.8, "location": {"left": 0.9, "top": 0.9, "width": 0.5, "height": 0.5}}
		]
	}`)

	detector := NewHTTPDetector(Options{ServerURL: server.URL})
	frame := image.NewRGBA(image.Rect(0, 0, 100, 100))

	boxes, err := detector.Detect(context.Background(), frame)
	require.NoError(t, err)
	require.Len(t, boxes, 1)
	assert.LessOrEqual(t, boxes[0].X+boxes[0].W, 100)
	assert.LessOrEqual(t, boxes[0].Y+boxes[0].H, 100)
}

func TestDetectEmptyResults(t *testing.T) {
	server := stubServer(t, `{"errno": 0, "results": []}`)

	detector := NewHTTPDetector(Options{ServerURL: server.URL})
	frame := image.NewRGBA(image.Rect(0, 0, 10, 10))

	boxes, err := detector.Detect(context.Background(), frame)
	require.NoError(t, err)
	assert.Empty(t, boxes)
}

func TestDetectServerErrno(t *testing.T) {
	server := stubServer(t, `{"errno": 3, "err_msg": "model not loaded"}`)

	detector := NewHTTPDetector(Options{ServerURL: server.URL})
	frame := image.NewRGBA(image.Rect(0, 0, 10, 10))

	_, err := detector.Detect(context.Background(), frame)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestDetectHTMLBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>502 Bad Gateway</body></html>"))
	}))
	defer server.Close()

	detector := NewHTTPDetector(Options{ServerURL: server.URL})
	frame := image.NewRGBA(image.Rect(0, 0, 10, 10))

	_, err := detector.Detect(context.Background(), frame)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTML")
}

func TestDetectTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	detector := NewHTTPDetector(Options{ServerURL: server.URL, Timeout: 20 * time.Millisecond})
	frame := image.NewRGBA(image.Rect(0, 0, 10, 10))

	_, err := detector.Detect(context.Background(), frame)
	assert.Error(t, err)
}

func TestDownscalePreservesAspectRatio(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 4000, 2000))

	scaled := downscale(frame, 1000)
	assert.Equal(t, 1000, scaled.Bounds().Dx())
	assert.Equal(t, 500, scaled.Bounds().Dy())

	small := image.NewRGBA(image.Rect(0, 0, 100, 100))
	assert.Same(t, small, downscale(small, 1000))
	assert.Same(t, small, downscale(small, 0))
}
