package sitrep

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeImage(t *testing.T) {
	t.Run("png with alpha", func(t *testing.T) {
		src := image.NewNRGBA(image.Rect(0, 0, 4, 2))
		for i := range src.Pix {
			src.Pix[i] = 0x40
		}
		src.SetNRGBA(1, 1, color.NRGBA{R: 200, G: 100, B: 50, A: 0x80})

		buf := new(bytes.Buffer)
		require.NoError(t, png.Encode(buf, src))

		img, format, err := DecodeImage(buf)
		require.NoError(t, err)
		assert.Equal(t, "png", format)
		assert.Equal(t, src.Bounds(), img.Bounds())

		nrgba, ok := img.(*image.NRGBA)
		require.True(t, ok)
		for i := 3; i < len(nrgba.Pix); i += 4 {
			assert.EqualValues(t, 0xff, nrgba.Pix[i])
		}
		c := nrgba.NRGBAAt(1, 1)
		assert.Equal(t, color.NRGBA{R: 200, G: 100, B: 50, A: 0xff}, c)
	})

	t.Run("jpeg", func(t *testing.T) {
		buf := new(bytes.Buffer)
		require.NoError(t, imaging.Encode(buf, imaging.New(8, 8, color.White), imaging.JPEG))

		img, format, err := DecodeImage(buf)
		require.NoError(t, err)
		assert.Equal(t, "jpeg", format)
		assert.Equal(t, 8, img.Bounds().Dx())
	})

	t.Run("unsupported", func(t *testing.T) {
		_, _, err := DecodeImage(strings.NewReader("definitely not an image"))
		assert.ErrorIs(t, err, ErrUnsupportedImage)
	})

	t.Run("truncated png", func(t *testing.T) {
		buf := new(bytes.Buffer)
		require.NoError(t, png.Encode(buf, imaging.New(16, 16, color.Black)))
		_, _, err := DecodeImage(bytes.NewReader(buf.Bytes()[:buf.Len()/2]))
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrUnsupportedImage)
	})
}
