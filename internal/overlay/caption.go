package overlay

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// DrawCaption writes text at (x, y) in white over a black box with the given
// padding. (x, y) is the top-left corner of the box.
func DrawCaption(img draw.Image, x, y int, text string, padding int) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: face,
	}
	width := d.MeasureString(text).Ceil()
	metrics := face.Metrics()
	height := (metrics.Ascent + metrics.Descent).Ceil()

	box := image.Rect(x, y, x+width+2*padding, y+height+2*padding).Intersect(img.Bounds())
	draw.Draw(img, box, image.NewUniform(color.Black), image.Point{}, draw.Src)

	d.Dot = fixed.P(x+padding, y+padding+metrics.Ascent.Ceil())
	d.DrawString(text)
}
