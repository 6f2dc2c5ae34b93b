// SPDX-License-Identifier: GPL-2.0-or-later

package video

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// RGB Color.
type RGB struct {
	R, G, B uint8
}

// RGBA .
func (c RGB) RGBA() (r, g, b, a uint32) {
	r = uint32(c.R)
	r |= r << 8

	g = uint32(c.G)
	g |= g << 8

	b = uint32(c.B)
	b |= b << 8

	a = 0xffff
	return
}

// RGBModel .
var RGBModel color.Model = color.ModelFunc(rgbModel)

func rgbModel(c color.Color) color.Color {
	if _, ok := c.(RGB); ok {
		return c
	}
	r, g, b, _ := c.RGBA()
	return RGB{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8)}
}

// Packed24 is an in-memory image with three bytes per pixel.
// The offsets select the red, green and blue byte of a pixel.
type Packed24 struct {
	Pix    []uint8
	Stride int
	Rect   image.Rectangle

	R, G, B int
}

// ColorModel .
func (p *Packed24) ColorModel() color.Model { return RGBModel }

// Bounds .
func (p *Packed24) Bounds() image.Rectangle { return p.Rect }

// At .
func (p *Packed24) At(x, y int) color.Color {
	return p.RGBAt(x, y)
}

// RGBAt .
func (p *Packed24) RGBAt(x, y int) RGB {
	if !(image.Point{x, y}.In(p.Rect)) {
		return RGB{}
	}
	i := p.PixOffset(x, y)
	return RGB{p.Pix[i+p.R], p.Pix[i+p.G], p.Pix[i+p.B]}
}

// PixOffset returns the index of the first element of Pix that corresponds to
// the pixel at (x, y).
func (p *Packed24) PixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*3
}

// ErrUnknownLayout frame channels do not match the pixel format.
var ErrUnknownLayout = errors.New("unknown pixel layout")

// Image returns an image.Image view of the frame without copying
// unless the layout requires it. pixFmt is the ffmpeg pixel format
// the frame was decoded to.
func (f Frame) Image(pixFmt string) (image.Image, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	rect := image.Rect(0, 0, f.Width, f.Height)
	stride := f.Width * f.Channels

	switch {
	case pixFmt == "gray" && f.Channels == 1:
		return &image.Gray{Pix: f.Pix, Stride: stride, Rect: rect}, nil

	case pixFmt == "rgb24" && f.Channels == 3:
		return &Packed24{Pix: f.Pix, Stride: stride, Rect: rect, R: 0, G: 1, B: 2}, nil

	case pixFmt == "bgr24" && f.Channels == 3:
		return &Packed24{Pix: f.Pix, Stride: stride, Rect: rect, R: 2, G: 1, B: 0}, nil

	case pixFmt == "rgba" && f.Channels == 4:
		return &image.NRGBA{Pix: f.Pix, Stride: stride, Rect: rect}, nil

	case pixFmt == "bgra" && f.Channels == 4:
		pix := make([]uint8, len(f.Pix))
		for i := 0; i < len(pix); i += 4 {
			pix[i], pix[i+1], pix[i+2], pix[i+3] = f.Pix[i+2], f.Pix[i+1], f.Pix[i], f.Pix[i+3]
		}
		return &image.NRGBA{Pix: pix, Stride: stride, Rect: rect}, nil
	}
	return nil, fmt.Errorf("%w: %v with %v channels", ErrUnknownLayout, pixFmt, f.Channels)
}
