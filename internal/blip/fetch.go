package blip

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// DefaultBaseURL hosts an ONNX export of ModelID.
const DefaultBaseURL = "https://huggingface.co/Xenova/blip-image-captioning-base/resolve/main/"

// Model files, relative to both the model directory and the base URL.
const (
	VisionFile  = "onnx/vision_model.onnx"
	DecoderFile = "onnx/text_decoder_model.onnx"
	VocabFile   = "vocab.txt"
)

var Files = []string{VisionFile, DecoderFile, VocabFile}

// ProgressFunc returns a writer that receives the bytes of name as they are
// downloaded. size is -1 when the server does not send a length.
type ProgressFunc func(name string, size int64) io.Writer

// Missing returns the model files not present in dir.
func Missing(dir string) []string {
	var missing []string
	for _, f := range Files {
		if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
			missing = append(missing, f)
		}
	}
	return missing
}

// Fetch downloads the model files missing from dir. Files are written under a
// temporary name and renamed once complete, so an interrupted download is
// retried in full next time.
func Fetch(ctx context.Context, client *http.Client, dir, baseURL, token string, progress ProgressFunc) error {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	for _, name := range Missing(dir) {
		if err := fetchFile(ctx, client, filepath.Join(dir, name), baseURL+name, token, name, progress); err != nil {
			return fmt.Errorf("fetch %s: %w", name, err)
		}
	}
	return nil
}

func fetchFile(ctx context.Context, client *http.Client, dst, url, token, name string, progress ProgressFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server responded with status: %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	tmp := dst + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	var w io.Writer = f
	if progress != nil {
		w = io.MultiWriter(f, progress(name, resp.ContentLength))
	}
	_, err = io.Copy(w, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, dst)
}
