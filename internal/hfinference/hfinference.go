// Package hfinference captions images with a model hosted behind the Hugging
// Face inference API.
package hfinference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"

	"github.com/chriskillpack/sitrep/captioner"
)

const (
	DefaultModel = "Salesforce/blip-image-captioning-base"
	DefaultURL   = "https://router.huggingface.co/hf-inference/models/" + DefaultModel
)

type hfinference struct {
	url   string
	model string
	token string

	client *http.Client
}

var _ captioner.Captioner = &hfinference{}

func Init(url, token string, httpClient *http.Client) *hfinference {
	if url == "" {
		url = DefaultURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	model := DefaultModel
	if i := strings.Index(url, "/models/"); i >= 0 {
		model = url[i+len("/models/"):]
	}

	return &hfinference{
		url:    url,
		model:  model,
		token:  token,
		client: httpClient,
	}
}

func (h *hfinference) Name() string { return "hfinference" }

func (h *hfinference) Model() string { return h.model }

// IsHealthy only checks that a credential is configured, probing the hosted
// model would spend quota.
func (h *hfinference) IsHealthy(ctx context.Context) bool {
	return h.token != ""
}

func (h *hfinference) Caption(ctx context.Context, img image.Image) (string, error) {
	data, err := captioner.EncodeJPEG(img)
	if err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("Authorization", "Bearer "+h.token)

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var eresp struct {
			Error string `json:"error"`
		}
		msg := resp.Status
		if json.Unmarshal(body, &eresp) == nil && eresp.Error != "" {
			msg = eresp.Error
		}
		return "", fmt.Errorf("API responded with status %d: %s", resp.StatusCode, msg)
	}

	var captions []struct {
		Text string `json:"generated_text"`
	}
	if err := json.Unmarshal(body, &captions); err != nil {
		return "", fmt.Errorf("failed to parse API response: %w", err)
	}

	if len(captions) == 0 || strings.TrimSpace(captions[0].Text) == "" {
		return "", captioner.ErrEmptyCaption
	}
	return strings.TrimSpace(captions[0].Text), nil
}
