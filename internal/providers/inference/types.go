package inference

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/impara/comicgen/internal/domain"
)

// CallbackStatus is the outcome reported by the inference API webhook.
type CallbackStatus string

const (
	CallbackSucceeded CallbackStatus = "succeeded"
	CallbackFailed    CallbackStatus = "failed"
)

// Callback is the normalized webhook payload delivered for a submitted
// generation request. Output is phase dependent: a list of panel description
// strings for segmentation, a single image URL otherwise.
type Callback struct {
	Handle string          `json:"handle"`
	Status CallbackStatus  `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Succeeded reports whether the callback carries a usable result.
func (c Callback) Succeeded() bool {
	return c.Status == CallbackSucceeded || strings.EqualFold(string(c.Status), "success")
}

// DecodeSegments parses a segmentation result and enforces the fixed panel
// count.
func DecodeSegments(raw json.RawMessage) ([]string, error) {
	var segments []string
	if err := json.Unmarshal(raw, &segments); err != nil {
		return nil, fmt.Errorf("inference: decode segmentation output: %w", err)
	}
	if len(segments) != domain.PanelCount {
		return nil, fmt.Errorf("inference: segmentation produced %d panels, want %d", len(segments), domain.PanelCount)
	}
	for i, s := range segments {
		if strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("inference: segmentation panel %d is empty", i+1)
		}
	}
	return segments, nil
}

// DecodeImageURL parses a cartoonify or background result.
func DecodeImageURL(raw json.RawMessage) (string, error) {
	var url string
	if err := json.Unmarshal(raw, &url); err != nil {
		// Some deployments wrap the url in an object.
		var wrapped struct {
			URL string `json:"url"`
		}
		if err2 := json.Unmarshal(raw, &wrapped); err2 != nil || wrapped.URL == "" {
			return "", fmt.Errorf("inference: decode image output: %w", err)
		}
		url = wrapped.URL
	}
	if strings.TrimSpace(url) == "" {
		return "", fmt.Errorf("inference: image output is empty")
	}
	return url, nil
}
