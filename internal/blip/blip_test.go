package blip

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/chriskillpack/sitrep/captioner"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testVocab is a small vocabulary with BERT's special token ids in place.
func testVocab() vocab {
	v := make(vocab, 110)
	for i := range v {
		v[i] = "[unused]"
	}
	v[0] = "[PAD]"
	v[100] = "[UNK]"
	v[101] = "[CLS]"
	v[102] = "[SEP]"
	v[103] = "[MASK]"
	v[1] = "a"
	v[2] = "flooded"
	v[3] = "street"
	v[4] = "with"
	v[5] = "cars"
	v[6] = "sub"
	v[7] = "##merged"
	v[8] = "."
	v[9] = "it"
	v[10] = "'s"
	return v
}

// scripted emits a fixed sequence of token ids, one per decode step.
type scripted struct {
	tokens   []int
	size     int
	steps    int
	released bool
	err      error
}

func (s *scripted) next(ids []int64) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	logits := make([]float32, s.size)
	tok := sepID
	if s.steps < len(s.tokens) {
		tok = s.tokens[s.steps]
	}
	logits[tok] = 1
	s.steps++
	return logits, nil
}

func (s *scripted) release() { s.released = true }

type fakeModel struct {
	enc     *scripted
	encoded int
}

func (m *fakeModel) encode(pixels []float32) (encoding, error) {
	if len(pixels) != 3*ImageSize*ImageSize {
		return nil, errors.New("bad pixel count")
	}
	m.encoded++
	return m.enc, nil
}

func (m *fakeModel) Close() error { return nil }

func testImage() image.Image {
	return imaging.New(64, 48, color.NRGBA{R: 30, G: 60, B: 200, A: 255})
}

func TestCaption(t *testing.T) {
	model := &fakeModel{enc: &scripted{tokens: []int{1, 2, 3, 4, 5, 6, 7, 8}, size: 110}}
	b := Init(Config{}, nil, nil)
	b.load = func(ctx context.Context) (*handle, error) {
		return &handle{model: model, vocab: testVocab()}, nil
	}

	caption, err := b.Caption(t.Context(), testImage())
	require.NoError(t, err)
	assert.Equal(t, "a flooded street with cars submerged.", caption)
	assert.True(t, model.enc.released)
	assert.Equal(t, 1, model.encoded)
}

func TestCaptionEmpty(t *testing.T) {
	model := &fakeModel{enc: &scripted{size: 110}}
	b := Init(Config{}, nil, nil)
	b.load = func(ctx context.Context) (*handle, error) {
		return &handle{model: model, vocab: testVocab()}, nil
	}

	_, err := b.Caption(t.Context(), testImage())
	assert.ErrorIs(t, err, captioner.ErrEmptyCaption)
}

func TestCaptionDecodeError(t *testing.T) {
	boom := errors.New("onnxruntime: invalid input")
	model := &fakeModel{enc: &scripted{size: 110, err: boom}}
	b := Init(Config{}, nil, nil)
	b.load = func(ctx context.Context) (*handle, error) {
		return &handle{model: model, vocab: testVocab()}, nil
	}

	_, err := b.Caption(t.Context(), testImage())
	assert.ErrorIs(t, err, boom)
	assert.True(t, model.enc.released)
}

func TestLoadOnce(t *testing.T) {
	var loads atomic.Int32
	release := make(chan struct{})
	b := Init(Config{}, nil, nil)
	b.load = func(ctx context.Context) (*handle, error) {
		loads.Add(1)
		<-release
		return &handle{model: &fakeModel{enc: &scripted{tokens: []int{1}, size: 110}}, vocab: testVocab()}, nil
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.acquire(t.Context())
			assert.NoError(t, err)
		}()
	}
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, loads.Load())
	assert.True(t, b.IsHealthy(t.Context()))
}

func TestLoadFailureIsRetried(t *testing.T) {
	var loads int
	b := Init(Config{}, nil, nil)
	b.load = func(ctx context.Context) (*handle, error) {
		loads++
		if loads == 1 {
			return nil, errors.New("weights unavailable")
		}
		return &handle{model: &fakeModel{enc: &scripted{tokens: []int{1}, size: 110}}, vocab: testVocab()}, nil
	}

	_, err := b.Caption(t.Context(), testImage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weights unavailable")

	caption, err := b.Caption(t.Context(), testImage())
	require.NoError(t, err)
	assert.Equal(t, "a", caption)
	assert.Equal(t, 2, loads)
}

func TestLoadMissingFilesWithoutFetch(t *testing.T) {
	b := Init(Config{ModelDir: t.TempDir()}, nil, nil)

	_, err := b.Caption(t.Context(), testImage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing model files")
	assert.False(t, b.IsHealthy(t.Context()))
}

func TestFetch(t *testing.T) {
	var reqs atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqs.Add(1)
		assert.Equal(t, "Bearer hf_test", r.Header.Get("Authorization"))
		name := strings.TrimPrefix(r.URL.Path, "/repo/")
		w.Write([]byte("contents of " + name))
	}))
	defer srv.Close()

	dir := t.TempDir()
	// An existing file is not downloaded again.
	require.NoError(t, os.WriteFile(filepath.Join(dir, VocabFile), []byte("[PAD]\n"), 0644))

	var progressed []string
	progress := func(name string, size int64) io.Writer {
		progressed = append(progressed, name)
		return io.Discard
	}
	require.NoError(t, Fetch(t.Context(), srv.Client(), dir, srv.URL+"/repo", "hf_test", progress))

	assert.EqualValues(t, 2, reqs.Load())
	assert.Equal(t, []string{VisionFile, DecoderFile}, progressed)
	assert.Empty(t, Missing(dir))

	data, err := os.ReadFile(filepath.Join(dir, DecoderFile))
	require.NoError(t, err)
	assert.Equal(t, "contents of "+DecoderFile, string(data))
}

func TestFetchError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	dir := t.TempDir()
	err := Fetch(t.Context(), srv.Client(), dir, srv.URL, "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Len(t, Missing(dir), len(Files))

	_, statErr := os.Stat(filepath.Join(dir, VisionFile+".part"))
	assert.True(t, os.IsNotExist(statErr))
}
