package handler

import (
	"context"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/alanyoungcy/optionbot/internal/domain"
	"github.com/alanyoungcy/optionbot/internal/server/middleware"
	"github.com/alanyoungcy/optionbot/internal/service"
)

// PositionService defines the methods that the position handler requires.
type PositionService interface {
	Open(ctx context.Context, req service.OpenRequest) (domain.Position, error)
	Close(ctx context.Context, id, by string) (domain.Position, bool, error)
	Get(ctx context.Context, id string) (domain.Position, error)
	ListActive(ctx context.Context) ([]domain.Position, error)
	ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error)
	LatestQuote(ctx context.Context, id string) (domain.Quote, error)
	Snapshots(ctx context.Context, id string) ([]domain.BlobInfo, error)
	SnapshotObject(ctx context.Context, id, name string) (io.ReadCloser, error)
	AuditLog(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and logger.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logger.With(slog.String("handler", "positions")),
	}
}

type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListActive returns every active position.
// GET /api/positions
func (h *PositionHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	positions, err := h.positions.ListActive(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list positions")
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// ListHistory returns closed positions, most recently closed first.
// GET /api/positions/history?limit=&offset=&since=&until=
func (h *PositionHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	positions, err := h.positions.ListHistory(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list history")
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// GetPosition returns one position.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := h.positions.Get(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to load position")
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// GetQuote returns the latest quote for a position.
// GET /api/positions/{id}/quote
func (h *PositionHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	q, err := h.positions.LatestQuote(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to load quote")
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// ListSnapshots returns the stored snapshot objects for a position.
// GET /api/positions/{id}/snapshots
func (h *PositionHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	infos, err := h.positions.Snapshots(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list snapshots")
		return
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": infos})
}

// ListAudit returns the audit log with limit/offset/since/until filters.
// GET /api/audit
func (h *PositionHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := h.positions.AuditLog(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list audit log")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// GetSnapshot streams one stored snapshot object.
// GET /api/positions/{id}/snapshots/{name}
func (h *PositionHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")
	rc, err := h.positions.SnapshotObject(r.Context(), pathParam(r, "id"), name)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to read snapshot")
		return
	}
	defer rc.Close()

	ct := mime.TypeByExtension(path.Ext(name))
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.WarnContext(r.Context(), "snapshot stream interrupted",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
	}
}

// openPositionRequest is the body of POST /api/positions. Expiration is a
// YYYY-MM-DD date.
type openPositionRequest struct {
	Underlying string  `json:"underlying"`
	Kind       string  `json:"kind"`
	Strike     float64 `json:"strike"`
	Expiration string  `json:"expiration"`
	MinBid     float64 `json:"min_bid"`
	MaxAsk     float64 `json:"max_ask"`
	MinVolume  int64   `json:"min_volume"`
}

// OpenPosition searches for a matching contract and starts tracking it.
// POST /api/positions
func (h *PositionHandler) OpenPosition(w http.ResponseWriter, r *http.Request) {
	var body openPositionRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(body.Underlying) == "" {
		writeError(w, http.StatusBadRequest, "underlying is required")
		return
	}
	kind, err := domain.ParseOptionKind(body.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req := service.OpenRequest{
		Underlying: body.Underlying,
		Kind:       kind,
		Strike:     body.Strike,
		MinBid:     body.MinBid,
		MaxAsk:     body.MaxAsk,
		MinVolume:  body.MinVolume,
		OpenedBy:   middleware.User(r.Context()),
	}
	if body.Expiration != "" {
		exp, err := time.Parse(time.DateOnly, body.Expiration)
		if err != nil {
			writeError(w, http.StatusBadRequest, "expiration: expected YYYY-MM-DD")
			return
		}
		req.Expiration = exp
	}

	pos, err := h.positions.Open(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to open position")
		return
	}
	writeJSON(w, http.StatusCreated, pos)
}

type closePositionResponse struct {
	Position domain.Position `json:"position"`
	Applied  bool            `json:"applied"`
}

// ClosePosition manually closes a position at its current price. Closing an
// already closed position succeeds with applied=false.
// POST /api/positions/{id}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	by := middleware.User(r.Context())
	if by == "" {
		by = "api"
	}
	pos, applied, err := h.positions.Close(r.Context(), pathParam(r, "id"), by)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to close position")
		return
	}
	writeJSON(w, http.StatusOK, closePositionResponse{Position: pos, Applied: applied})
}
