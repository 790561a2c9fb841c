package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/optionbot/internal/domain"
	"github.com/alanyoungcy/optionbot/internal/store/memory"
)

var errUpstream = errors.New("upstream 502")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeQuotes serves one mid per underlying. Missing underlyings fail.
type fakeQuotes struct {
	mu     sync.Mutex
	mids   map[string]float64
	errs   map[string]error
	calls  int
	onCall func(req domain.QuoteRequest)
}

func newFakeQuotes() *fakeQuotes {
	return &fakeQuotes{mids: map[string]float64{}, errs: map[string]error{}}
}

func (f *fakeQuotes) set(underlying string, mid float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mids[underlying] = mid
	delete(f.errs, underlying)
}

func (f *fakeQuotes) fail(underlying string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[underlying] = err
}

func (f *fakeQuotes) GetQuote(_ context.Context, req domain.QuoteRequest) (domain.Quote, error) {
	f.mu.Lock()
	f.calls++
	hook := f.onCall
	mid, ok := f.mids[req.Underlying]
	err := f.errs[req.Underlying]
	f.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	if err != nil {
		return domain.Quote{}, err
	}
	if !ok {
		return domain.Quote{}, domain.ErrNoQuote
	}
	return domain.Quote{Mid: mid, Bid: mid - 0.05, Ask: mid + 0.05, FetchedAt: time.Now().UTC()}, nil
}

type eventLog struct {
	mu     sync.Mutex
	events []domain.Event
}

func (l *eventLog) Publish(_ context.Context, evt domain.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
	return nil
}

func (l *eventLog) all() []domain.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.Event(nil), l.events...)
}

func (l *eventLog) ofType(t domain.EventType) []domain.Event {
	var out []domain.Event
	for _, e := range l.all() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type sentAlert struct {
	event string
	alert domain.Alert
}

type alertLog struct {
	mu   sync.Mutex
	sent []sentAlert
}

func (l *alertLog) Notify(_ context.Context, event string, alert domain.Alert) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, sentAlert{event: event, alert: alert})
	return nil
}

func (l *alertLog) all() []sentAlert {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]sentAlert(nil), l.sent...)
}

type stubRenderer struct{}

func (stubRenderer) Render(_ context.Context, snap domain.Snapshot) (domain.Artifact, error) {
	data, err := json.Marshal(map[string]any{"kind": snap.Kind, "id": snap.Position.ID, "goal": snap.Goal})
	if err != nil {
		return domain.Artifact{}, err
	}
	return domain.Artifact{Data: data, ContentType: "application/json", Extension: "json"}, nil
}

// memBlobs is an in-memory BlobWriter, BlobReader and BlobLister.
type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}}
}

func (b *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(data); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = buf.Bytes()
	return nil
}

func (b *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.BlobInfo
	for k, v := range b.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.BlobInfo{Path: k, Size: int64(len(v))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func seedPosition(t *testing.T, s *memory.PositionStore, id, underlying string, entry float64, expiration time.Time) domain.Position {
	t.Helper()
	now := time.Now().UTC()
	p := domain.Position{
		ID: id, Symbol: underlying + "260320C00500000", Underlying: underlying, Strike: 500,
		Kind: domain.OptionKindCall, Expiration: expiration,
		EntryPrice: entry, CurrentPrice: entry, PeakPrice: entry,
		Status: domain.PositionStatusActive, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.Create(context.Background(), p))
	return p
}

func getPosition(t *testing.T, s *memory.PositionStore, id string) domain.Position {
	t.Helper()
	p, err := s.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p
}
