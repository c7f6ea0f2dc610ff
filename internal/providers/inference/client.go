// Package inference wraps the external generation API: long-running
// submissions correlated to later webhook callbacks through opaque handles.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/impara/comicgen/internal/domain"
	"github.com/impara/comicgen/internal/infra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Options configures the inference API client.
type Options struct {
	APIKey         string
	BaseURL        string
	CallbackURL    string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
	RetryCount     int
	RetryDelay     time.Duration
}

// Client performs submission calls against the inference API. Each call
// returns an opaque handle; the result arrives later on the webhook named by
// CallbackURL. When no base URL is configured the client runs in synthetic
// mode and delivers locally generated callbacks, mirroring a deployment
// without API credentials.
type Client struct {
	apiKey      string
	baseURL     string
	callbackURL string
	httpClient  *http.Client
	logger      *infra.Logger
	retryCount  int
	retryDelay  time.Duration
	titler      cases.Caser
}

type submitRequest struct {
	Task        string         `json:"task"`
	CallbackURL string         `json:"callback_url"`
	Reference   string         `json:"reference"`
	Input       map[string]any `json:"input"`
}

type submitResponse struct {
	Handle  string `json:"handle"`
	Message string `json:"message,omitempty"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.CallbackURL) == "" {
		return nil, errors.New("inference: callback url is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	return &Client{
		apiKey:      strings.TrimSpace(opts.APIKey),
		baseURL:     strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		callbackURL: strings.TrimSpace(opts.CallbackURL),
		httpClient:  httpClient,
		logger:      logger,
		retryCount:  opts.RetryCount,
		retryDelay:  retryDelay,
		titler:      cases.Title(language.English),
	}, nil
}

// Synthetic reports whether the client delivers locally generated results.
func (c *Client) Synthetic() bool {
	return c.baseURL == ""
}

// SubmitSegmentation asks the NLP model to split a story into the fixed
// number of panel descriptions.
func (c *Client) SubmitSegmentation(ctx context.Context, story string) (string, error) {
	if c.Synthetic() {
		return c.syntheticSubmit("segmentation", map[string]any{"story": story})
	}
	return c.submit(ctx, submitRequest{
		Task:  "segmentation",
		Input: map[string]any{"story": story, "panels": domain.PanelCount},
	})
}

// SubmitCartoonify requests a cartoon rendition of a raw character image.
func (c *Client) SubmitCartoonify(ctx context.Context, image, characterID string) (string, error) {
	if c.Synthetic() {
		return c.syntheticSubmit("cartoonify", map[string]any{"character_id": characterID})
	}
	return c.submit(ctx, submitRequest{
		Task:      "cartoonify",
		Reference: characterID,
		Input:     map[string]any{"image": image},
	})
}

// SubmitBackground requests a panel background render for one scene
// description under the job's style options.
func (c *Client) SubmitBackground(ctx context.Context, description string, opts domain.Options, panelID string) (string, error) {
	if c.Synthetic() {
		return c.syntheticSubmit("background", map[string]any{"panel_id": panelID})
	}
	return c.submit(ctx, submitRequest{
		Task:      "background",
		Reference: panelID,
		Input: map[string]any{
			"prompt": c.backgroundPrompt(description, opts),
		},
	})
}

// backgroundPrompt folds the scene description and the job's style options
// into a single render prompt.
func (c *Client) backgroundPrompt(description string, opts domain.Options) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(description))
	if style := strings.TrimSpace(opts.Style); style != "" {
		b.WriteString(", ")
		b.WriteString(c.titler.String(style))
		b.WriteString(" style")
	}
	if theme := strings.TrimSpace(opts.Background); theme != "" {
		b.WriteString(", ")
		b.WriteString(c.titler.String(theme))
		b.WriteString(" setting")
	}
	return b.String()
}

func (c *Client) submit(ctx context.Context, req submitRequest) (string, error) {
	req.CallbackURL = c.callbackURL
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("inference: encode request: %w", err)
	}

	var lastErr error
	attempts := c.retryCount + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			c.logger.Warn().
				Str("task", req.Task).
				Int("attempt", attempt+1).
				Err(lastErr).
				Msg("inference: retrying submission")
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		handle, retryable, err := c.doSubmit(ctx, req.Task, body)
		if err == nil {
			return handle, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return "", fmt.Errorf("%w: %s: %s", domain.ErrSubmission, req.Task, lastErr)
}

func (c *Client) doSubmit(ctx context.Context, task string, body []byte) (handle string, retryable bool, err error) {
	endpoint := c.baseURL + "/v1/generations"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Transport-level failures are the retryable, network class.
		return "", true, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", true, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return "", true, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", false, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var parsed submitResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", false, fmt.Errorf("decode response: %w", err)
	}
	if parsed.Handle == "" {
		return "", false, fmt.Errorf("response missing handle")
	}
	c.logger.Debug().Str("task", task).Str("handle", parsed.Handle).Msg("inference: submitted")
	return parsed.Handle, false, nil
}
