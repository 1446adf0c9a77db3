package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/tabwarden/tabwarden/memest"
)

//go:embed probe.js
var probeJS string

// RunInTab executes the DOM census inside the tab's document and decodes
// the result. Implements memest.ProbeRunner. Cancellation of ctx abandons
// the evaluation.
func (c *Client) RunInTab(ctx context.Context, tabID int) (*memest.DomMetrics, error) {
	e, ok := c.entryByID(tabID)
	if !ok {
		return nil, fmt.Errorf("browser: no tab %d", tabID)
	}
	page, err := c.pageFor(e)
	if err != nil {
		return nil, err
	}

	res, err := page.Context(ctx).Eval(probeJS)
	if err != nil {
		return nil, fmt.Errorf("browser: probe tab %d: %w", tabID, err)
	}

	var m memest.DomMetrics
	if err := json.Unmarshal([]byte(res.Value.Str()), &m); err != nil {
		return nil, fmt.Errorf("browser: decode probe result: %w", err)
	}
	return &m, nil
}
