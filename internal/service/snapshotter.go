package service

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/optionbot/internal/domain"
)

// Snapshotter renders a position snapshot, uploads it to blob storage and
// records the object key on the position. Without a blob writer it only
// renders.
type Snapshotter struct {
	renderer domain.Renderer
	blobs    domain.BlobWriter
	store    domain.PositionStore
	logger   *slog.Logger
	now      func() time.Time
}

// NewSnapshotter creates a Snapshotter. blobs may be nil.
func NewSnapshotter(renderer domain.Renderer, blobs domain.BlobWriter, store domain.PositionStore, logger *slog.Logger) *Snapshotter {
	return &Snapshotter{
		renderer: renderer,
		blobs:    blobs,
		store:    store,
		logger:   logger.With(slog.String("component", "snapshotter")),
		now:      time.Now,
	}
}

// SnapshotKey returns the object key for a snapshot taken at ts.
func SnapshotKey(id string, kind domain.SnapshotKind, ts time.Time, ext string) string {
	return fmt.Sprintf("%s%s-%s.%s", snapshotPrefix(id), kind, ts.UTC().Format("20060102T150405Z"), ext)
}

func snapshotPrefix(id string) string {
	return "snapshots/" + id + "/"
}

// Capture renders and stores a snapshot. It returns the artifact so callers
// can attach it to an alert, and the stored key ("" when not uploaded).
func (s *Snapshotter) Capture(ctx context.Context, kind domain.SnapshotKind, pos domain.Position, quote *domain.Quote, goal int) (domain.Artifact, string, error) {
	takenAt := s.now().UTC()
	art, err := s.renderer.Render(ctx, domain.Snapshot{
		Kind: kind, Position: pos, Quote: quote, Goal: goal, TakenAt: takenAt,
	})
	if err != nil {
		return domain.Artifact{}, "", fmt.Errorf("snapshot: render %s %s: %w", kind, pos.ID, err)
	}
	if s.blobs == nil {
		return art, "", nil
	}

	key := SnapshotKey(pos.ID, kind, takenAt, art.Extension)
	if err := s.blobs.Put(ctx, key, bytes.NewReader(art.Data), art.ContentType); err != nil {
		return art, "", fmt.Errorf("snapshot: upload %s: %w", key, err)
	}
	if err := s.store.SetSnapshot(ctx, pos.ID, kind, key); err != nil {
		return art, key, fmt.Errorf("snapshot: record %s: %w", key, err)
	}
	s.logger.DebugContext(ctx, "snapshot stored",
		slog.String("position_id", pos.ID),
		slog.String("kind", string(kind)),
		slog.String("key", key),
	)
	return art, key, nil
}

func attachment(kind domain.SnapshotKind, pos domain.Position, art domain.Artifact) *domain.Attachment {
	if len(art.Data) == 0 {
		return nil
	}
	return &domain.Attachment{
		Name:        fmt.Sprintf("%s-%s.%s", pos.Underlying, kind, art.Extension),
		ContentType: art.ContentType,
		Data:        art.Data,
	}
}
