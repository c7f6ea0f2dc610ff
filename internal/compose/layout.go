package compose

import "image"

// autoLayout distributes n character slots evenly along the horizontal axis
// of a panel, alternating each index between two vertical depth bands. The
// stagger is a depth cue only; no scene understanding is attempted.
func autoLayout(panelW, panelH, n int) []image.Rectangle {
	if n <= 0 {
		return nil
	}
	charH := panelH / 2
	charW := charH * 3 / 4
	slotW := panelW / n
	if charW > slotW {
		charW = slotW
	}

	highBand := panelH - charH - panelH/10
	lowBand := panelH - charH

	rects := make([]image.Rectangle, n)
	for i := 0; i < n; i++ {
		x := i*slotW + (slotW-charW)/2
		y := lowBand
		if i%2 == 1 {
			y = highBand
		}
		rects[i] = image.Rect(x, y, x+charW, y+charH)
	}
	return rects
}

// stripGrid picks the rows/columns tiling for n panels that fits inside the
// configured maximum strip dimensions while wasting the fewest grid cells.
// Panels keep their fixed size; gap and padding come from the config.
func (c *Compositor) stripGrid(n int) (cols, rows int) {
	if n <= 0 {
		return 0, 0
	}
	maxCols := (c.cfg.MaxStripWidth - 2*c.cfg.Padding + c.cfg.Gap) / (c.cfg.PanelWidth + c.cfg.Gap)
	if maxCols < 1 {
		maxCols = 1
	}
	maxRows := (c.cfg.MaxStripHeight - 2*c.cfg.Padding + c.cfg.Gap) / (c.cfg.PanelHeight + c.cfg.Gap)
	if maxRows < 1 {
		maxRows = 1
	}

	bestCols, bestRows, bestWaste := 1, n, -1
	for candidate := 1; candidate <= maxCols && candidate <= n; candidate++ {
		r := (n + candidate - 1) / candidate
		if r > maxRows {
			continue
		}
		waste := candidate*r - n
		if bestWaste < 0 || waste < bestWaste || (waste == bestWaste && candidate > bestCols) {
			bestCols, bestRows, bestWaste = candidate, r, waste
		}
	}
	if bestWaste < 0 {
		// Nothing fits the ceiling; fall back to one row per panel.
		return 1, n
	}
	return bestCols, bestRows
}
