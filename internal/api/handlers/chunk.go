package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/swoopinfo/swoopkb/internal/api"
	"github.com/swoopinfo/swoopkb/internal/domain"
	"github.com/swoopinfo/swoopkb/internal/service"
)

type ChunkResolver interface {
	Resolve(ctx context.Context, input service.ResolveInput) (*service.Resolution, error)
	GetChunk(ctx context.Context, id string) (*domain.Chunk, error)
	ListByVehicle(ctx context.Context, input service.ListChunksInput) (*service.ListChunksOutput, error)
	Unban(ctx context.Context, id string) (*domain.Chunk, error)
}

// DiagramURLSigner presigns download URLs for offloaded SVG payloads.
type DiagramURLSigner interface {
	GenerateDownloadURL(ctx context.Context, key string) (string, error)
}

type ChunkHandler struct {
	svc    ChunkResolver
	signer DiagramURLSigner
}

// NewChunkHandler creates a new ChunkHandler. signer may be nil when no
// diagram store is configured.
func NewChunkHandler(svc ChunkResolver, signer DiagramURLSigner) *ChunkHandler {
	return &ChunkHandler{svc: svc, signer: signer}
}

type ChunkResponse struct {
	ID               string                 `json:"id"`
	VehicleKey       string                 `json:"vehicle_key"`
	ContentID        string                 `json:"content_id"`
	ChunkType        string                 `json:"chunk_type"`
	Title            string                 `json:"title,omitempty"`
	ContentText      string                 `json:"content_text,omitempty"`
	Data             map[string]interface{} `json:"data,omitempty"`
	Sources          []string               `json:"sources,omitempty"`
	SourceConfidence float64                `json:"source_confidence,omitempty"`
	QAStatus         string                 `json:"qa_status"`
	VerifiedStatus   string                 `json:"verified_status"`
	Visibility       string                 `json:"visibility"`
	QAPassCount      int                    `json:"qa_pass_count"`
	PromotionCount   int                    `json:"promotion_count"`
	CreatedAt        string                 `json:"created_at"`
	UpdatedAt        string                 `json:"updated_at"`
}

type ResolveResponse struct {
	Status string         `json:"status"`
	Reason string         `json:"reason,omitempty"`
	Chunk  *ChunkResponse `json:"chunk,omitempty"`
}

const timeFormat = "2006-01-02T15:04:05Z"

// chunkToResponse renders a chunk. Content fields are stripped unless the
// chunk is currently safe; trust metadata is always included.
func chunkToResponse(c *domain.Chunk) *ChunkResponse {
	resp := &ChunkResponse{
		ID:             c.ID,
		VehicleKey:     c.VehicleKey,
		ContentID:      c.ContentID,
		ChunkType:      string(c.ChunkType),
		QAStatus:       string(c.QAStatus),
		VerifiedStatus: string(c.VerifiedStatus),
		Visibility:     string(c.Visibility()),
		QAPassCount:    c.QAPassCount,
		PromotionCount: c.PromotionCount,
		CreatedAt:      c.CreatedAt.Format(timeFormat),
		UpdatedAt:      c.UpdatedAt.Format(timeFormat),
	}
	if c.Visibility() == domain.VisibilitySafe {
		resp.Title = c.Title
		resp.ContentText = c.ContentText
		resp.Data = c.Data
		resp.Sources = c.Sources
		resp.SourceConfidence = c.SourceConfidence
	}
	return resp
}

// Resolve handles GET /vehicles/{vehicleKey}/chunks/{contentID}?type=...
func (h *ChunkHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	vehicleKey := chi.URLParam(r, "vehicleKey")
	contentID := chi.URLParam(r, "contentID")
	chunkType := r.URL.Query().Get("type")

	if vehicleKey == "" || contentID == "" {
		api.Error(w, http.StatusBadRequest, "vehicle key and content id are required")
		return
	}
	if chunkType == "" {
		api.Error(w, http.StatusBadRequest, "type query parameter is required")
		return
	}

	resolution, err := h.svc.Resolve(r.Context(), service.ResolveInput{
		VehicleKey: vehicleKey,
		ContentID:  contentID,
		ChunkType:  domain.ChunkType(chunkType),
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := &ResolveResponse{
		Status: string(resolution.Status),
		Reason: string(resolution.Reason),
	}
	if resolution.Chunk != nil {
		resp.Chunk = chunkToResponse(resolution.Chunk)
		h.attachDiagramURL(r.Context(), resolution.Chunk, resp.Chunk)
	}

	status := http.StatusOK
	if resolution.Status == service.ResolutionPending {
		status = http.StatusAccepted
	}
	api.Success(w, status, resp)
}

// List handles GET /vehicles/{vehicleKey}/chunks
func (h *ChunkHandler) List(w http.ResponseWriter, r *http.Request) {
	vehicleKey := chi.URLParam(r, "vehicleKey")
	if vehicleKey == "" {
		api.Error(w, http.StatusBadRequest, "vehicle key is required")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			api.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	out, err := h.svc.ListByVehicle(r.Context(), service.ListChunksInput{
		VehicleKey: vehicleKey,
		Cursor:     r.URL.Query().Get("cursor"),
		Limit:      limit,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]*ChunkResponse, 0, len(out.Items))
	for _, c := range out.Items {
		items = append(items, chunkToResponse(c))
	}

	api.Success(w, http.StatusOK, map[string]interface{}{
		"items":    items,
		"cursor":   out.Cursor,
		"has_more": out.HasMore,
	})
}

// Get handles GET /admin/chunks/{id}. Operator view: content is included
// regardless of visibility.
func (h *ChunkHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	chunk, err := h.svc.GetChunk(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := chunkToResponse(chunk)
	resp.Title = chunk.Title
	resp.ContentText = chunk.ContentText
	resp.Data = chunk.Data
	resp.Sources = chunk.Sources
	resp.SourceConfidence = chunk.SourceConfidence
	api.Success(w, http.StatusOK, resp)
}

// Unban handles POST /admin/chunks/{id}/unban
func (h *ChunkHandler) Unban(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	chunk, err := h.svc.Unban(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, chunkToResponse(chunk))
}

// attachDiagramURL replaces a stored SVG object key with a short-lived
// download URL.
func (h *ChunkHandler) attachDiagramURL(ctx context.Context, chunk *domain.Chunk, resp *ChunkResponse) {
	if h.signer == nil || chunk.ChunkType != domain.ChunkTypeDiagramSVG || resp.Data == nil {
		return
	}
	key, ok := resp.Data["svg_key"].(string)
	if !ok || key == "" {
		return
	}
	url, err := h.signer.GenerateDownloadURL(ctx, key)
	if err != nil {
		return
	}
	resp.Data["svg_url"] = url
}
