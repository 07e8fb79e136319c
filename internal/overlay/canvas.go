// Package overlay draws pose skeletons onto a transparent surface in step with
// video playback.
package overlay

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"math"
	"sync"

	"golang.org/x/image/vector"
)

// Canvas is the drawing surface the renderer paints on. Coordinates are in
// native video pixels.
type Canvas interface {
	Clear()
	Line(x1, y1, x2, y2, width float64, c color.RGBA)
	FillCircle(cx, cy, r float64, c color.RGBA)
	StrokeCircle(cx, cy, r, width float64, c color.RGBA)
}

// RasterCanvas is an RGBA Canvas rasterized with golang.org/x/image/vector.
// A zero-sized canvas accepts every call and draws nothing.
type RasterCanvas struct {
	mu  sync.Mutex
	img *image.RGBA
	z   *vector.Rasterizer
}

// NewRasterCanvas allocates a transparent canvas of the given size.
func NewRasterCanvas(width, height int) *RasterCanvas {
	c := &RasterCanvas{}
	c.Resize(width, height)
	return c
}

// Resize reallocates the surface, discarding its contents. Negative sizes are
// treated as zero.
func (c *RasterCanvas) Resize(width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	width = max(width, 0)
	height = max(height, 0)
	c.img = image.NewRGBA(image.Rect(0, 0, width, height))
	c.z = vector.NewRasterizer(width, height)
}

// Size returns the surface dimensions.
func (c *RasterCanvas) Size() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.img.Bounds()
	return b.Dx(), b.Dy()
}

// Clear resets every pixel to transparent.
func (c *RasterCanvas) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.img.Pix)
}

// Line strokes a segment with butt caps.
func (c *RasterCanvas) Line(x1, y1, x2, y2, width float64, col color.RGBA) {
	dx, dy := x2-x1, y2-y1
	length := math.Hypot(dx, dy)
	if length == 0 || width <= 0 {
		return
	}
	hw := width / 2
	nx, ny := -dy/length*hw, dx/length*hw

	c.fill(col, func(z *vector.Rasterizer) {
		z.MoveTo(float32(x1+nx), float32(y1+ny))
		z.LineTo(float32(x2+nx), float32(y2+ny))
		z.LineTo(float32(x2-nx), float32(y2-ny))
		z.LineTo(float32(x1-nx), float32(y1-ny))
		z.ClosePath()
	})
}

// FillCircle paints a filled disc.
func (c *RasterCanvas) FillCircle(cx, cy, r float64, col color.RGBA) {
	if r <= 0 {
		return
	}
	c.fill(col, func(z *vector.Rasterizer) {
		circlePath(z, cx, cy, r, false)
	})
}

// StrokeCircle paints a ring of the given width centred on radius r.
func (c *RasterCanvas) StrokeCircle(cx, cy, r, width float64, col color.RGBA) {
	if r <= 0 || width <= 0 {
		return
	}
	outer := r + width/2
	inner := r - width/2
	c.fill(col, func(z *vector.Rasterizer) {
		circlePath(z, cx, cy, outer, false)
		if inner > 0 {
			// Opposite winding cuts the hole.
			circlePath(z, cx, cy, inner, true)
		}
	})
}

func (c *RasterCanvas) fill(col color.RGBA, path func(z *vector.Rasterizer)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.img.Bounds()
	if b.Empty() {
		return
	}
	c.z.Reset(b.Dx(), b.Dy())
	c.z.DrawOp = draw.Over
	path(c.z)
	c.z.Draw(c.img, b, image.NewUniform(col), image.Point{})
}

func circlePath(z *vector.Rasterizer, cx, cy, r float64, reverse bool) {
	segments := max(24, int(2*math.Pi*r))
	step := 2 * math.Pi / float64(segments)
	if reverse {
		step = -step
	}
	z.MoveTo(float32(cx+r), float32(cy))
	for i := 1; i < segments; i++ {
		a := step * float64(i)
		z.LineTo(float32(cx+r*math.Cos(a)), float32(cy+r*math.Sin(a)))
	}
	z.ClosePath()
}

// Snapshot returns a copy of the current surface.
func (c *RasterCanvas) Snapshot() *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := image.NewRGBA(c.img.Bounds())
	copy(cp.Pix, c.img.Pix)
	return cp
}

// PNG encodes the surface with its alpha channel intact.
func (c *RasterCanvas) PNG() ([]byte, error) {
	return EncodePNG(c.Snapshot())
}

// JPEG composites the surface over background and encodes it.
func (c *RasterCanvas) JPEG(quality int, background color.Color) ([]byte, error) {
	return EncodeJPEG(Composite(c.Snapshot(), background), quality)
}

// Composite flattens img over an opaque background.
func Composite(img *image.RGBA, background color.Color) *image.RGBA {
	out := image.NewRGBA(img.Bounds())
	draw.Draw(out, out.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)
	draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Over)
	return out
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeJPEG encodes img as JPEG.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
