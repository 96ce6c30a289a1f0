package sprites

import (
	"image"

	gm "github.com/Faultbox/spriteforge/pkg/math"
)

// roughness scales the Sobel gradients before they perturb the surface
// basis. Larger values exaggerate authored height differences.
const roughness = 0.5

// The canonical surface basis. Image Y grows downward and the surface faces
// the viewer, so the normal axis points into the screen; the change of basis
// at the end brings the perturbed normal back into tangent space where
// "flat" encodes as (0, 0, 1).
var (
	tangentAxis  = gm.Vec3{X: 1}
	binormalAxis = gm.Vec3{Y: 1}
	normalAxis   = gm.Vec3{Z: -1}
)

// Sobel kernels for the horizontal and vertical gradients.
var (
	sobelX = [3][3]float32{{-1, 0, 1}, {-2, 0, 2}, {-1, 0, 1}}
	sobelY = [3][3]float32{{-1, -2, -1}, {0, 0, 0}, {1, 2, 1}}
)

// SynthesizeNormalMap converts an authored height field into a tangent-space
// normal image. Height is min(red, alpha) so fully transparent pixels read
// as height zero. Pure and stateless; each output pixel depends only on the
// 3x3 input neighborhood around it.
func SynthesizeNormalMap(heightField *image.RGBA) *image.RGBA {
	b := heightField.Bounds()
	w, h := b.Dx(), b.Dy()

	heights := make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := heightField.PixOffset(b.Min.X+x, b.Min.Y+y)
			r, a := heightField.Pix[o], heightField.Pix[o+3]
			v := r
			if a < v {
				v = a
			}
			heights[y*w+x] = float32(v) / 255
		}
	}

	sample := func(x, y int) float32 {
		if x < 0 {
			x = 0
		} else if x >= w {
			x = w - 1
		}
		if y < 0 {
			y = 0
		} else if y >= h {
			y = h - 1
		}
		return heights[y*w+x]
	}

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var gx, gy float32
			for ky := 0; ky < 3; ky++ {
				for kx := 0; kx < 3; kx++ {
					v := sample(x+kx-1, y+ky-1)
					gx += sobelX[ky][kx] * v
					gy += sobelY[ky][kx] * v
				}
			}

			tangent := tangentAxis.Add(normalAxis.Scale(gx * roughness))
			binormal := binormalAxis.Add(normalAxis.Scale(gy * roughness))
			n := binormal.Cross(tangent).Normalize()

			// Change of basis into tangent space.
			ts := gm.Vec3{
				X: n.Dot(tangentAxis),
				Y: n.Dot(binormalAxis),
				Z: n.Dot(normalAxis),
			}

			o := out.PixOffset(x, y)
			out.Pix[o] = encodeSigned(ts.X)
			out.Pix[o+1] = encodeSigned(ts.Y)
			out.Pix[o+2] = encodeSigned(ts.Z)
			out.Pix[o+3] = 255
		}
	}
	return out
}

// encodeSigned maps a [-1, 1] component to an unsigned byte.
func encodeSigned(v float32) uint8 {
	f := v*128 + 127
	if f < 0 {
		return 0
	}
	if f > 255 {
		return 255
	}
	return uint8(f)
}

// Flat normal re-encoded as color: the background of every normal atlas and
// the placeholder cell for sprites with no authored height layer.
const (
	flatNormalR = 127
	flatNormalG = 127
	flatNormalB = 255
)

// flatNormalCell returns a w x h cell holding only the flat normal.
func flatNormalCell(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	fillRGBA(img, flatNormalR, flatNormalG, flatNormalB, 255)
	return img
}
