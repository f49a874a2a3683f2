package transform

import (
	"image"

	"github.com/andresmejia3/facestab/internal/types"
)

// Grayscale converts an RGBA image to 8-bit luma using the BT.601 weights
// (0.299, 0.587, 0.114) in 16.16 fixed point.
// Alpha is ignored.
func Grayscale(src *image.RGBA) *image.Gray {
	b := src.Rect
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	w, h := b.Dx(), b.Dy()
	for y := 0; y < h; y++ {
		so := src.PixOffset(b.Min.X, b.Min.Y+y)
		srcRow := src.Pix[so : so+w*4]
		dstRow := dst.Pix[y*dst.Stride : y*dst.Stride+w]
		for x := 0; x < w; x++ {
			off := x * 4
			r := uint32(srcRow[off])
			g := uint32(srcRow[off+1])
			bl := uint32(srcRow[off+2])
			// 16.16 fixed point, rounded.
			dstRow[x] = uint8((19595*r + 38470*g + 7471*bl + 1<<15) >> 16)
		}
	}
	return dst
}

// Shift returns a copy of src moved by t. Pixels that come from outside the
// source are opaque black. A zero translation still returns a copy.
func Shift(src *image.RGBA, t types.Translation) *image.RGBA {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))

	// Fill with opaque black first, then copy the overlapping window.
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 255
	}

	// Destination x range that receives source pixels.
	dx0, dx1 := clamp(t.DX, 0, w), clamp(w+t.DX, 0, w)
	dy0, dy1 := clamp(t.DY, 0, h), clamp(h+t.DY, 0, h)
	if dx0 >= dx1 || dy0 >= dy1 {
		return dst
	}

	rowBytes := (dx1 - dx0) * 4
	for y := dy0; y < dy1; y++ {
		sy := y - t.DY
		sx := dx0 - t.DX
		srcOff := src.PixOffset(src.Rect.Min.X+sx, src.Rect.Min.Y+sy)
		dstOff := y*dst.Stride + dx0*4
		copy(dst.Pix[dstOff:dstOff+rowBytes], src.Pix[srcOff:srcOff+rowBytes])
	}
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
