package store

import (
	"context"
	"encoding/json"

	"github.com/tabwarden/tabwarden/tabcore"
)

// Export serializes the full bundle as one JSON document:
// {"tabStats":…, "closedTabs":…, "settings":…, "sessionStats":…}.
func (g *Gateway) Export(ctx context.Context) ([]byte, error) {
	b, err := g.Load(ctx)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(b, "", "  ")
}

// Import replaces the stored bundle with the decoded document in one
// transaction and reports success as a boolean: a malformed payload or a
// failed write leaves the store untouched and returns false. Errors are
// logged, never propagated past this boundary.
func (g *Gateway) Import(ctx context.Context, data []byte) bool {
	var incoming tabcore.Bundle
	if err := json.Unmarshal(data, &incoming); err != nil {
		g.log.Warn("store: import rejected, malformed payload", "error", err)
		return false
	}
	if incoming.TabStats == nil {
		incoming.TabStats = make(map[int]tabcore.TabStat)
	}
	if incoming.ClosedTabs == nil {
		incoming.ClosedTabs = []tabcore.ClosedTabRecord{}
	}
	if incoming.SessionStats.Daily == nil {
		incoming.SessionStats.Daily = make(map[string]tabcore.DayCount)
	}

	err := g.Update(ctx, func(b *tabcore.Bundle) error {
		*b = incoming
		return nil
	})
	if err != nil {
		g.log.Error("store: import write failed", "error", err)
		return false
	}
	return true
}
