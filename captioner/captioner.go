package captioner

import (
	"bytes"
	"context"
	"errors"
	"image"

	"github.com/disintegration/imaging"
)

// ErrEmptyCaption is returned by a backend whose model produced no text.
var ErrEmptyCaption = errors.New("model returned an empty caption")

// Captioner produces a short natural language description of an image.
type Captioner interface {
	// Name returns the name of the backend, e.g. "blip" or "llama"
	Name() string

	// Model returns the identifier of the captioning model in use.
	Model() string

	// Caption returns an English caption for the provided image. The image
	// must already be decoded into an opaque RGB bitmap. The provided ctx is
	// used as a parent context for any request made to a model server.
	Caption(ctx context.Context, img image.Image) (string, error)

	// IsHealthy returns whether the backend can currently serve requests.
	IsHealthy(ctx context.Context) bool
}

// EncodeJPEG returns img as a JPEG file, for backends that ship the image
// over the wire.
func EncodeJPEG(img image.Image) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(92)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
