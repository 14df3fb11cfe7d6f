package blip

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Token ids of the BLIP tokenizer. [DEC] is appended after the BERT vocabulary
// and starts every generated caption.
const (
	sepID = 102
	decID = 30522
)

var specialTokens = map[string]bool{
	"[PAD]":  true,
	"[UNK]":  true,
	"[CLS]":  true,
	"[SEP]":  true,
	"[MASK]": true,
}

// vocab maps token ids back to WordPiece tokens.
type vocab []string

func loadVocab(path string) (vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return readVocab(f)
}

// readVocab reads one token per line, the line number being the token id.
func readVocab(r io.Reader) (vocab, error) {
	var v vocab
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		v = append(v, strings.TrimRight(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(v) == 0 {
		return nil, fmt.Errorf("empty vocabulary")
	}
	return v, nil
}

// decode turns generated ids into text, dropping special tokens and ids that
// fall outside the vocabulary.
func (v vocab) decode(ids []int64) string {
	var sb strings.Builder
	for _, id := range ids {
		if id < 0 || id >= int64(len(v)) {
			continue
		}
		tok := v[id]
		if specialTokens[tok] {
			continue
		}
		if rest, ok := strings.CutPrefix(tok, "##"); ok {
			sb.WriteString(rest)
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(tok)
	}
	return cleanupSpaces(sb.String())
}

var cleanupReplacer = strings.NewReplacer(
	" .", ".",
	" ?", "?",
	" !", "!",
	" ,", ",",
	" ' ", "'",
	" n't", "n't",
	" 'm", "'m",
	" 's", "'s",
	" 've", "'ve",
	" 're", "'re",
)

func cleanupSpaces(s string) string {
	return strings.TrimSpace(cleanupReplacer.Replace(s))
}
