package blip

import (
	"context"
	"fmt"
)

// maxLength bounds a caption, counting the leading [DEC] token.
const maxLength = 20

// captionModel is the two halves of BLIP: a vision encoder and a text decoder
// conditioned on its output.
type captionModel interface {
	encode(pixels []float32) (encoding, error)
	Close() error
}

// encoding holds the encoder output for one image.
type encoding interface {
	// next returns the vocabulary logits for the token following ids.
	next(ids []int64) ([]float32, error)
	release()
}

// greedy decodes from [DEC], always taking the most likely token, until [SEP]
// or maxLen tokens. The returned ids include neither.
func greedy(ctx context.Context, enc encoding, maxLen int) ([]int64, error) {
	ids := make([]int64, 1, maxLen)
	ids[0] = decID
	for len(ids) < maxLen {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logits, err := enc.next(ids)
		if err != nil {
			return nil, fmt.Errorf("decode step %d: %w", len(ids), err)
		}
		if len(logits) == 0 {
			return nil, fmt.Errorf("decode step %d: no logits", len(ids))
		}
		tok := int64(argmax(logits))
		if tok == sepID {
			break
		}
		ids = append(ids, tok)
	}
	return ids[1:], nil
}

func argmax(xs []float32) int {
	best := 0
	for i, x := range xs {
		if x > xs[best] {
			best = i
		}
	}
	return best
}
