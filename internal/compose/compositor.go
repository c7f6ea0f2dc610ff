// Package compose renders final artifacts: characters overlaid on panel
// backgrounds, and panels tiled into the finished strip.
package compose

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"net/http"
	"strings"
	"time"

	xdraw "golang.org/x/image/draw"

	"github.com/impara/comicgen/internal/storage"
)

// Config fixes the output geometry. Panel dimensions are constant across a
// strip; the grid tiling respects the maximum strip envelope.
type Config struct {
	PanelWidth     int
	PanelHeight    int
	MaxStripWidth  int
	MaxStripHeight int
	Gap            int
	Padding        int
	FetchTimeout   time.Duration
}

// DefaultConfig returns the production geometry.
func DefaultConfig() Config {
	return Config{
		PanelWidth:     1024,
		PanelHeight:    768,
		MaxStripWidth:  2200,
		MaxStripHeight: 1700,
		Gap:            16,
		Padding:        24,
		FetchTimeout:   20 * time.Second,
	}
}

// Placement is one character cutout to overlay onto a background. When Rect
// is the zero rectangle the auto-layout heuristic assigns a slot.
type Placement struct {
	Source string
	Rect   image.Rectangle
}

// Compositor produces composed panel and strip images, writing artifacts to
// the asset store and returning their public URLs. Deterministic for
// identical inputs.
type Compositor struct {
	cfg        Config
	store      *storage.FileStore
	baseURL    string
	httpClient *http.Client
}

// New creates a Compositor backed by the given asset store. baseURL prefixes
// the returned artifact URLs.
func New(cfg Config, store *storage.FileStore, baseURL string) *Compositor {
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Compositor{
		cfg:        cfg,
		store:      store,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ComposePanel overlays the character placements onto the background, scaled
// to the fixed panel geometry, and returns the stored panel image URL.
func (c *Compositor) ComposePanel(ctx context.Context, jobID, panelID, backgroundURL string, placements []Placement) (string, error) {
	bg, err := c.fetchImage(ctx, backgroundURL)
	if err != nil {
		return "", fmt.Errorf("background: %w", err)
	}

	canvas := image.NewRGBA(image.Rect(0, 0, c.cfg.PanelWidth, c.cfg.PanelHeight))
	xdraw.ApproxBiLinear.Scale(canvas, canvas.Bounds(), bg, bg.Bounds(), draw.Src, nil)

	auto := autoLayout(c.cfg.PanelWidth, c.cfg.PanelHeight, len(placements))
	for i, p := range placements {
		img, err := c.fetchImage(ctx, p.Source)
		if err != nil {
			return "", fmt.Errorf("character %d: %w", i+1, err)
		}
		rect := p.Rect
		if rect.Empty() {
			rect = auto[i]
		}
		xdraw.ApproxBiLinear.Scale(canvas, rect, img, img.Bounds(), draw.Over, nil)
	}

	key := fmt.Sprintf("strips/%s/%s.png", jobID, panelID)
	return c.writeArtifact(ctx, key, canvas)
}

// ComposeStrip tiles the panel images into a grid inside the maximum strip
// envelope and returns the stored strip image URL.
func (c *Compositor) ComposeStrip(ctx context.Context, jobID string, panelURLs []string) (string, error) {
	if len(panelURLs) == 0 {
		return "", fmt.Errorf("compose: no panels to tile")
	}
	cols, rows := c.stripGrid(len(panelURLs))
	width := 2*c.cfg.Padding + cols*c.cfg.PanelWidth + (cols-1)*c.cfg.Gap
	height := 2*c.cfg.Padding + rows*c.cfg.PanelHeight + (rows-1)*c.cfg.Gap

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)

	for i, url := range panelURLs {
		img, err := c.fetchImage(ctx, url)
		if err != nil {
			return "", fmt.Errorf("panel %d: %w", i+1, err)
		}
		col, row := i%cols, i/cols
		x := c.cfg.Padding + col*(c.cfg.PanelWidth+c.cfg.Gap)
		y := c.cfg.Padding + row*(c.cfg.PanelHeight+c.cfg.Gap)
		rect := image.Rect(x, y, x+c.cfg.PanelWidth, y+c.cfg.PanelHeight)
		xdraw.ApproxBiLinear.Scale(canvas, rect, img, img.Bounds(), draw.Src, nil)
	}

	key := fmt.Sprintf("strips/%s/strip.png", jobID)
	return c.writeArtifact(ctx, key, canvas)
}

func (c *Compositor) writeArtifact(ctx context.Context, key string, img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("compose: encode png: %w", err)
	}
	savedKey, err := c.store.Write(ctx, key, buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("compose: store artifact: %w", err)
	}
	return c.baseURL + "/" + savedKey, nil
}
