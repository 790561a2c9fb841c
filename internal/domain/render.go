package domain

import (
	"context"
	"time"
)

// Snapshot is the data handed to a Renderer when an artifact is needed for a
// position: at entry, and when a milestone is crossed.
type Snapshot struct {
	Kind     SnapshotKind
	Position Position
	Quote    *Quote
	Goal     int
	TakenAt  time.Time
}

// Artifact is an opaque rendered payload.
type Artifact struct {
	Data        []byte
	ContentType string
	Extension   string
}

// Renderer produces an artifact from snapshot data.
type Renderer interface {
	Render(ctx context.Context, snap Snapshot) (Artifact, error)
}
