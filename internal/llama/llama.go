package llama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"maps"
	"net/http"
	"strings"

	"github.com/chriskillpack/sitrep/captioner"
)

const (
	imagePreamble = `A chat between a curious human and an artificial intelligence assistant. The assistant gives short, factual answers to the human's questions.
USER:`
	imageSuffix = `
ASSISTANT:`

	captionRequest = "[img-10]write a one sentence caption describing this scene"
)

type jsonmap map[string]any

// These were lifted from the web inspector for the server UI, with
// temperature 0 for greedy decoding.
var defaultparams = jsonmap{
	"n_predict":         60,
	"n_probs":           0,
	"temperature":       0,
	"stop":              []string{"</s>", "USER:", "ASSISTANT:", "\n"},
	"repeat_last_n":     256,
	"repeat_penalty":    1.18,
	"top_k":             40,
	"top_p":             0.5,
	"tfs_z":             1,
	"typical_p":         1,
	"presence_penalty":  0,
	"frequency_penalty": 0,
	"mirostat":          0,
	"mirostat_tau":      5,
	"mirostat_eta":      0.1,
	"grammar":           "",
	"slot_id":           -1,
	"cache_prompt":      true,
}

type llama struct {
	srvAddr string
	seed    int
	stream  bool

	client *http.Client
}

var _ captioner.Captioner = &llama{}

func Init(srvAddr string, seed int, httpClient *http.Client) *llama {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &llama{
		srvAddr: strings.TrimRight(srvAddr, "/"),
		seed:    seed,
		client:  httpClient,
	}
}

func (l *llama) Name() string { return "llama" }

// Model is whatever multimodal model the server was started with.
func (l *llama) Model() string { return "llava" }

func (l *llama) IsHealthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.srvAddr+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

func (l *llama) Caption(ctx context.Context, img image.Image) (string, error) {
	data, err := captioner.EncodeJPEG(img)
	if err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}

	imb64 := base64.StdEncoding.EncodeToString(data)
	caption, err := l.sendRequest(ctx, imagePreamble+captionRequest+imageSuffix, l.stream, jsonmap{
		"image_data": []jsonmap{
			{
				"data": imb64, "id": 10,
			},
		},
	})
	if err != nil {
		return "", err
	}

	caption = strings.TrimSpace(caption)
	if caption == "" {
		return "", captioner.ErrEmptyCaption
	}
	return caption, nil
}

func (l *llama) sendRequest(ctx context.Context, prompt string, stream bool, keys jsonmap) (string, error) {
	data := maps.Clone(defaultparams)
	maps.Copy(data, keys)
	data["prompt"] = prompt
	data["stream"] = stream
	data["seed"] = l.seed

	buf := bytes.NewBuffer(make([]byte, 0, 2_000_000)) // The buffer will be resized by Encode
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(&data)
	if err != nil {
		return "", err
	}
	br := bytes.NewReader(buf.Bytes())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.srvAddr+"/completion", br)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llama server responded with status: %d", resp.StatusCode)
	}

	content := new(bytes.Buffer)
	respbody := struct {
		Content string
		Stop    bool
	}{}

	lr := bufio.NewScanner(resp.Body)
	for !respbody.Stop {
		// Read in one line
		if !lr.Scan() {
			if err := lr.Err(); err != nil {
				return "", err
			}
			return "", fmt.Errorf("response ended before stop")
		}
		line := lr.Text()
		// The empty line appears after a JSON body
		if len(line) == 0 {
			continue
		}
		if stream {
			var found bool
			line, found = strings.CutPrefix(line, "data: ")
			if !found {
				return "", fmt.Errorf("missing `data: ` prefix")
			}
		}

		if err := json.Unmarshal([]byte(line), &respbody); err != nil {
			return "", err
		}
		content.WriteString(respbody.Content)
	}

	return strings.TrimLeft(content.String(), " "), nil
}
