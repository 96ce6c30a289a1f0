package sprites

import (
	"image"

	xdraw "golang.org/x/image/draw"
)

// NormalizeCell resizes trimmed cel content to exactly target size: the
// content lands at its authored offset, missing edges are padded with the
// zero pixel, and anything extending past the target is clipped. Pure
// function of (content, offset, target); no file or atlas context.
func NormalizeCell(content *image.RGBA, offset image.Point, target image.Point) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, target.X, target.Y))
	if content == nil {
		return dst
	}
	xdraw.Copy(dst, offset, content, content.Bounds(), xdraw.Src, nil)
	return dst
}

// celImage wraps raw RGBA cel pixels as an image without copying.
func celImage(pixels []byte, w, h int) *image.RGBA {
	return &image.RGBA{
		Pix:    pixels,
		Stride: w * 4,
		Rect:   image.Rect(0, 0, w, h),
	}
}

// fillRGBA floods the image with one color value.
func fillRGBA(img *image.RGBA, r, g, b, a uint8) {
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = r
		img.Pix[i+1] = g
		img.Pix[i+2] = b
		img.Pix[i+3] = a
	}
}
