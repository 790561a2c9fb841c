package render

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/optionbot/internal/domain"
)

func TestJSONRendererPeakSnapshot(t *testing.T) {
	r := NewJSONRenderer(domain.DefaultTiers, domain.ExitRules{StopLossPercent: 50})
	pos := domain.Position{ID: "p1", EntryPrice: 1.00, CurrentPrice: 1.95, PeakPrice: 1.95, LastGoal: 1}

	art, err := r.Render(context.Background(), domain.Snapshot{
		Kind: domain.SnapshotPeak, Position: pos, Goal: 3, TakenAt: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "application/json", art.ContentType)
	assert.Equal(t, "json", art.Extension)

	var doc document
	require.NoError(t, json.Unmarshal(art.Data, &doc))
	assert.Equal(t, domain.SnapshotPeak, doc.Kind)
	assert.Equal(t, 3, doc.Goal)
	assert.Equal(t, 0.5, doc.StopPrice)
	assert.Equal(t, 95.0, doc.ChangePct)
	require.Len(t, doc.Goals, 5)
	assert.Equal(t, 1.3, doc.Goals[0].Price)
	assert.Equal(t, 2.5, doc.Goals[4].Price)
	assert.True(t, doc.Goals[2].Reached)
	assert.False(t, doc.Goals[3].Reached)
}
