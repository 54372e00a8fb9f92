// Package annotate burns detection overlays into frames for
// human-verifiable output.
package annotate

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/fogleman/gg"

	"crowd-density/common"
)

const boxThickness = 3

var boxColor = color.RGBA{0, 255, 0, 255}

// Draw returns a new frame with detection rectangles and confidence labels
// burned in. The input frame is never mutated; with no detections the
// output is pixel-identical to the input.
func Draw(frame *image.RGBA, boxes []common.BoundingBox) *image.RGBA {
	out := cloneRGBA(frame)
	if len(boxes) == 0 {
		return out
	}

	for _, box := range boxes {
		drawThickRectangle(out, box.X, box.Y, box.X+box.W, box.Y+box.H, boxColor, boxThickness)
	}

	drawLabels(out, boxes)
	return out
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Rect)
	copy(dst.Pix, src.Pix)
	return dst
}

// drawThickRectangle draws a rectangle border with the given thickness.
func drawThickRectangle(img *image.RGBA, x1, y1, x2, y2 int, col color.RGBA, thickness int) {
	maxX := img.Bounds().Max.X
	maxY := img.Bounds().Max.Y

	for t := 0; t < thickness; t++ {
		for x := x1; x <= x2; x++ {
			if x < 0 || x >= maxX {
				continue
			}
			if y1+t >= 0 && y1+t < maxY {
				img.Set(x, y1+t, col)
			}
			if y2-t >= 0 && y2-t < maxY {
				img.Set(x, y2-t, col)
			}
		}
		for y := y1; y <= y2; y++ {
			if y < 0 || y >= maxY {
				continue
			}
			if x1+t >= 0 && x1+t < maxX {
				img.Set(x1+t, y, col)
			}
			if x2-t >= 0 && x2-t < maxX {
				img.Set(x2-t, y, col)
			}
		}
	}
}

var fontPaths = []string{
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/TTF/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/liberation/LiberationSans-Regular.ttf",
	"/System/Library/Fonts/Helvetica.ttc",
	"C:/Windows/Fonts/arial.ttf",
}

var (
	fontOnce sync.Once
	fontPath string
)

// resolveFontPath walks the fallback chain once. An empty result means no
// usable font; labels are then skipped and only boxes are drawn.
func resolveFontPath() string {
	fontOnce.Do(func() {
		probe := gg.NewContext(1, 1)
		for _, path := range fontPaths {
			if err := probe.LoadFontFace(path, 18); err == nil {
				fontPath = path
				return
			}
		}
	})
	return fontPath
}

// drawLabels writes "person <confidence>" above each box with an outline
// for visibility on any background.
func drawLabels(img *image.RGBA, boxes []common.BoundingBox) {
	path := resolveFontPath()
	if path == "" {
		return
	}

	ctx := gg.NewContextForRGBA(img)
	if err := ctx.LoadFontFace(path, 18); err != nil {
		return
	}

	for _, box := range boxes {
		label := fmt.Sprintf("person %.2f", box.Confidence)
		x := float64(box.X)
		y := float64(box.Y) - 6
		if y < 18 {
			y = float64(box.Y+box.H) + 20
		}
		drawTextWithOutline(ctx, label, x, y)
	}
}

// drawTextWithOutline draws the text eight times in offset positions for a
// black outline, then once in white on top.
func drawTextWithOutline(ctx *gg.Context, text string, x, y float64) {
	offsets := []struct{ dx, dy float64 }{
		{-1, -1}, {-1, 0}, {-1, 1},
		{0, -1}, {0, 1},
		{1, -1}, {1, 0}, {1, 1},
	}

	ctx.SetColor(color.RGBA{0, 0, 0, 255})
	for _, offset := range offsets {
		ctx.DrawStringAnchored(text, x+offset.dx, y+offset.dy, 0, 0)
	}

	ctx.SetColor(color.RGBA{255, 255, 255, 255})
	ctx.DrawStringAnchored(text, x, y, 0, 0)
}
