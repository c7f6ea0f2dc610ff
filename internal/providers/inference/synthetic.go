package inference

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/impara/comicgen/internal/domain"
)

// syntheticDelay spaces synthetic callbacks out so the pipeline exercises its
// asynchronous paths even without a live API.
const syntheticDelay = 150 * time.Millisecond

// syntheticSubmit fabricates a handle and delivers a matching callback to our
// own webhook shortly after, standing in for the remote API in development
// and test environments.
func (c *Client) syntheticSubmit(task string, input map[string]any) (string, error) {
	handle := "syn-" + uuid.NewString()
	go func() {
		time.Sleep(syntheticDelay)
		cb := Callback{Handle: handle, Status: CallbackSucceeded}
		switch task {
		case "segmentation":
			story, _ := input["story"].(string)
			out, _ := json.Marshal(syntheticSegments(story))
			cb.Output = out
		case "cartoonify":
			id, _ := input["character_id"].(string)
			out, _ := json.Marshal(syntheticAssetURL("cartoonify", id))
			cb.Output = out
		case "background":
			id, _ := input["panel_id"].(string)
			out, _ := json.Marshal(syntheticAssetURL("background", id))
			cb.Output = out
		}
		c.deliverCallback(cb)
	}()
	c.logger.Debug().Str("task", task).Str("handle", handle).Msg("inference: synthetic submission")
	return handle, nil
}

func (c *Client) deliverCallback(cb Callback) {
	body, err := json.Marshal(cb)
	if err != nil {
		c.logger.Error().Err(err).Msg("inference: encode synthetic callback")
		return
	}
	resp, err := c.httpClient.Post(c.callbackURL, "application/json", bytes.NewReader(body))
	if err != nil {
		c.logger.Error().Err(err).Str("handle", cb.Handle).Msg("inference: deliver synthetic callback")
		return
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn().Int("status", resp.StatusCode).Str("handle", cb.Handle).Msg("inference: synthetic callback not acknowledged")
	}
}

func syntheticSegments(story string) []string {
	segments := make([]string, domain.PanelCount)
	for i := range segments {
		segments[i] = fmt.Sprintf("Scene %d: %s", i+1, story)
	}
	return segments
}

func syntheticAssetURL(task, ref string) string {
	return fmt.Sprintf("https://placehold.co/synthetic/%s/%s.png", task, ref)
}
