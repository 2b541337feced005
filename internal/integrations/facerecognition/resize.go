package facerecognition

import (
	"image"

	"golang.org/x/image/draw"
)

// Resize skaliert ein Bild bilinear auf size×size
func Resize(src image.Image, size int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}
