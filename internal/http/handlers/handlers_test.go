package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/impara/comicgen/internal/compose"
	"github.com/impara/comicgen/internal/domain"
	"github.com/impara/comicgen/internal/http/handlers"
	"github.com/impara/comicgen/internal/http/httpapi"
	"github.com/impara/comicgen/internal/infra"
	"github.com/impara/comicgen/internal/orchestrator"
	"github.com/impara/comicgen/internal/store"
)

// stubSubmitter hands out one handle per call and remembers them.
type stubSubmitter struct {
	mu      sync.Mutex
	n       int
	handles []string
}

func (s *stubSubmitter) next() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	h := fmt.Sprintf("h-%d", s.n)
	s.handles = append(s.handles, h)
	return h, nil
}

func (s *stubSubmitter) SubmitSegmentation(ctx context.Context, story string) (string, error) {
	return s.next()
}

func (s *stubSubmitter) SubmitCartoonify(ctx context.Context, image, characterID string) (string, error) {
	return s.next()
}

func (s *stubSubmitter) SubmitBackground(ctx context.Context, description string, opts domain.Options, panelID string) (string, error) {
	return s.next()
}

type stubComposer struct{}

func (stubComposer) ComposePanel(ctx context.Context, jobID, panelID, backgroundURL string, placements []compose.Placement) (string, error) {
	return "http://cdn/" + jobID + "/" + panelID + ".png", nil
}

func (stubComposer) ComposeStrip(ctx context.Context, jobID string, panelURLs []string) (string, error) {
	return "http://cdn/" + jobID + "/strip.png", nil
}

func newTestServer(t *testing.T) (*httptest.Server, *stubSubmitter) {
	t.Helper()
	fs, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	sub := &stubSubmitter{}
	orc := orchestrator.New(fs, sub, stubComposer{}, zerolog.Nop())
	app := handlers.NewApp(orc, zerolog.Nop())
	cfg := &infra.Config{RateLimitPerMin: 100, StoragePath: t.TempDir()}
	srv := httptest.NewServer(httpapi.NewRouter(app, cfg, zerolog.Nop()))
	t.Cleanup(srv.Close)
	return srv, sub
}

func postJSON(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

const validCreate = `{
	"story": "A hero saves the city.",
	"characters": [{"id": "c1", "name": "Hero", "image": "data:image/png;base64,x"}],
	"style": "manga"
}`

func TestCreateStrip(t *testing.T) {
	srv, sub := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/strips", validCreate)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var sum orchestrator.JobSummary
	decodeBody(t, resp, &sum)
	if sum.JobID == "" {
		t.Fatal("missing job_id")
	}
	if sum.Status != domain.JobStatusProcessing {
		t.Fatalf("status = %q", sum.Status)
	}
	if len(sub.handles) != 1 {
		t.Fatalf("expected one submission, got %d", len(sub.handles))
	}
}

func TestCreateStripMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/strips", "{not json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestCreateStripValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	cases := map[string]string{
		"missing story":      `{"characters":[{"id":"c1","name":"n","image":"i"}]}`,
		"no characters":      `{"story":"s","characters":[]}`,
		"character sans id":  `{"story":"s","characters":[{"name":"n","image":"i"}]}`,
		"character sans img": `{"story":"s","characters":[{"id":"c1","name":"n"}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/v1/strips", body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d", resp.StatusCode)
			}
			var e map[string]string
			decodeBody(t, resp, &e)
			if e["error"] != "validation_error" {
				t.Fatalf("error kind = %q", e["error"])
			}
		})
	}
}

func TestStripStatus(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/strips", validCreate)
	var created orchestrator.JobSummary
	decodeBody(t, resp, &created)

	statusResp, err := http.Get(srv.URL + "/v1/strips/" + created.JobID)
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	defer statusResp.Body.Close()
	if statusResp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", statusResp.StatusCode)
	}
	var sum orchestrator.JobSummary
	decodeBody(t, statusResp, &sum)
	if sum.JobID != created.JobID {
		t.Fatalf("job_id = %q", sum.JobID)
	}
}

func TestStripStatusNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/strips/no-such-job")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestInferenceCallbackAdvancesJob(t *testing.T) {
	srv, sub := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/strips", validCreate)
	var created orchestrator.JobSummary
	decodeBody(t, resp, &created)

	segments := `["a scene","b scene","c scene","d scene"]`
	cb := fmt.Sprintf(`{"handle":%q,"status":"succeeded","output":%s}`, sub.handles[0], segments)
	cbResp := postJSON(t, srv.URL+"/v1/callbacks/inference", cb)
	if cbResp.StatusCode != http.StatusOK {
		t.Fatalf("callback status = %d", cbResp.StatusCode)
	}

	// Segmentation done, cartoonify dispatched.
	if len(sub.handles) != 2 {
		t.Fatalf("expected cartoonify submission, have %d handles", len(sub.handles))
	}
}

func TestInferenceCallbackMalformed(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/callbacks/inference", "][")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestInferenceCallbackUnknownHandleAcknowledged(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/callbacks/inference", `{"handle":"mystery","status":"succeeded"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/healthz")
	if err != nil {
		t.Fatalf("GET healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("content-type = %q", ct)
	}
}

func TestCreateStripRateLimited(t *testing.T) {
	fs, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	orc := orchestrator.New(fs, &stubSubmitter{}, stubComposer{}, zerolog.Nop())
	app := handlers.NewApp(orc, zerolog.Nop())
	cfg := &infra.Config{RateLimitPerMin: 1, StoragePath: t.TempDir()}
	srv := httptest.NewServer(httpapi.NewRouter(app, cfg, zerolog.Nop()))
	defer srv.Close()

	first := postJSON(t, srv.URL+"/v1/strips", validCreate)
	if first.StatusCode != http.StatusAccepted {
		t.Fatalf("first status = %d", first.StatusCode)
	}
	second := postJSON(t, srv.URL+"/v1/strips", validCreate)
	if second.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second status = %d", second.StatusCode)
	}
}
