package sitrep

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/disintegration/imaging"
	_ "github.com/gen2brain/avif"
	_ "golang.org/x/image/webp"
)

// ErrUnsupportedImage is returned for input that no registered decoder
// recognizes.
var ErrUnsupportedImage = errors.New("unsupported image format")

// DecodeImage decodes a JPEG, PNG, WebP or AVIF file and returns it as an
// opaque RGB bitmap. Alpha is discarded, not composited.
func DecodeImage(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, "", ErrUnsupportedImage
		}
		return nil, "", fmt.Errorf("decode image: %w", err)
	}

	return toRGB(img), format, nil
}

func toRGB(img image.Image) *image.NRGBA {
	dst := imaging.Clone(img)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}
