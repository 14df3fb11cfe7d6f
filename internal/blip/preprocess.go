package blip

import (
	"image"

	"github.com/disintegration/imaging"
)

// ImageSize is the square input resolution of the BLIP base vision encoder.
const ImageSize = 384

var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// Preprocess resizes img to ImageSize x ImageSize and returns it as a
// normalized float32 tensor in CHW order. The aspect ratio is not preserved.
func Preprocess(img image.Image) []float32 {
	dst := imaging.Resize(img, ImageSize, ImageSize, imaging.CatmullRom)

	const plane = ImageSize * ImageSize
	out := make([]float32, 3*plane)
	for y := range ImageSize {
		row := dst.Pix[y*dst.Stride:]
		for x := range ImageSize {
			px := row[x*4:]
			i := y*ImageSize + x
			for c := range 3 {
				v := float32(px[c]) / 255.0
				out[c*plane+i] = (v - clipMean[c]) / clipStd[c]
			}
		}
	}
	return out
}
