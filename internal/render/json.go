// Package render turns position snapshots into opaque artifacts.
package render

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/optionbot/internal/domain"
)

// JSONRenderer implements domain.Renderer by encoding the snapshot, together
// with the position's goal ladder and stop price, as indented JSON.
type JSONRenderer struct {
	tiers domain.Tiers
	rules domain.ExitRules
}

// NewJSONRenderer creates a JSONRenderer.
func NewJSONRenderer(tiers domain.Tiers, rules domain.ExitRules) *JSONRenderer {
	return &JSONRenderer{tiers: tiers, rules: rules}
}

type goalLine struct {
	Goal    int     `json:"goal"`
	Percent float64 `json:"percent"`
	Price   float64 `json:"price"`
	Reached bool    `json:"reached"`
}

type document struct {
	Kind      domain.SnapshotKind `json:"kind"`
	TakenAt   time.Time           `json:"taken_at"`
	Goal      int                 `json:"goal,omitempty"`
	Position  domain.Position     `json:"position"`
	Quote     *domain.Quote       `json:"quote,omitempty"`
	Goals     []goalLine          `json:"goals"`
	StopPrice float64             `json:"stop_price"`
	ChangePct float64             `json:"change_percent"`
}

// Render encodes snap.
func (r *JSONRenderer) Render(_ context.Context, snap domain.Snapshot) (domain.Artifact, error) {
	p := snap.Position
	doc := document{
		Kind:      snap.Kind,
		TakenAt:   snap.TakenAt.UTC(),
		Goal:      snap.Goal,
		Position:  p,
		Quote:     snap.Quote,
		StopPrice: round2(r.rules.StopPrice(p.EntryPrice)),
	}
	if p.EntryPrice > 0 {
		doc.ChangePct = round2((p.CurrentPrice - p.EntryPrice) / p.EntryPrice * 100)
	}
	for g := 1; g <= domain.MaxGoal; g++ {
		doc.Goals = append(doc.Goals, goalLine{
			Goal:    g,
			Percent: r.tiers.Percent(g),
			Price:   r.tiers.GoalPrice(p.EntryPrice, g),
			Reached: g <= max(p.LastGoal, snap.Goal),
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("render: encode %s snapshot %s: %w", snap.Kind, p.ID, err)
	}
	return domain.Artifact{Data: data, ContentType: "application/json", Extension: "json"}, nil
}

var _ domain.Renderer = (*JSONRenderer)(nil)
