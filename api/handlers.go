package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/inkdex/search-go/embedding"
	"github.com/inkdex/search-go/models"
	"github.com/inkdex/search-go/normalize"
	"github.com/inkdex/search-go/ratelimit"
	"github.com/inkdex/search-go/service"
)

const (
	maxJSONBody = 1 << 20
	// multipart overhead on top of the image itself
	maxFormOverhead = 1 << 20
)

// Searcher is the search pipeline the handlers drive.
type Searcher interface {
	Submit(ctx context.Context, req service.Request) (*models.SearchResponse, error)
	Results(ctx context.Context, searchID string, f service.Filters, p service.Page) (*models.SearchResponse, error)
	Query(ctx context.Context, text string, f service.Filters, p service.Page) (*models.SearchResponse, error)
	Warmup(ctx context.Context) bool
	Health(ctx context.Context) embedding.HealthReport
}

type Handler struct {
	searcher  Searcher
	warmup    ratelimit.Limiter
	instagram ratelimit.Limiter
	now       func() time.Time
}

// NewHandler allows one warmup per client per minute and 50 Instagram
// searches per client per hour.
func NewHandler(searcher Searcher) *Handler {
	return &Handler{
		searcher:  searcher,
		warmup:    ratelimit.NewWindow(1, time.Minute),
		instagram: ratelimit.NewWindow(50, time.Hour),
		now:       time.Now,
	}
}

// Register mounts the search routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/search", h.Search)
	r.Get("/search/query", h.Query)
	r.Get("/search/{searchID}", h.Results)
	r.Post("/warmup", h.Warmup)
	r.Get("/embeddings/health", h.EmbeddingsHealth)
	r.Get("/health", h.Health)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	req, err := decodeSearch(r)
	if err != nil {
		writeError(w, err)
		return
	}

	in := req.Input
	if in.Type == models.QueryInstagramPost || in.Type == models.QueryInstagramProfile ||
		(in.Type == "" && in.InstagramRef != "" && len(in.Image) == 0 && in.ArtistID == "") {
		if d := h.instagram.Allow(clientIP(r)); !d.Allowed {
			writeError(w, &models.RateLimitError{Limit: d.Limit, Remaining: d.Remaining, RetryAfter: d.RetryAfter(h.now())})
			return
		}
	}

	resp, err := h.searcher.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Results(w http.ResponseWriter, r *http.Request) {
	f, p, err := filtersFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	resp, err := h.searcher.Results(r.Context(), chi.URLParam(r, "searchID"), f, p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	f, p, err := filtersFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	resp, err := h.searcher.Query(r.Context(), r.URL.Query().Get("q"), f, p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type warmupResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Warmup always answers 200: it is a hint, never a failure.
func (h *Handler) Warmup(w http.ResponseWriter, r *http.Request) {
	if !h.warmup.Allow(clientIP(r)).Allowed {
		writeJSON(w, http.StatusOK, warmupResponse{Success: false, Message: "Warmup on cooldown"})
		return
	}
	if !h.searcher.Warmup(r.Context()) {
		writeJSON(w, http.StatusOK, warmupResponse{Success: false, Message: "No embedding provider configured"})
		return
	}
	writeJSON(w, http.StatusOK, warmupResponse{Success: true, Message: "Warmup initiated"})
}

func (h *Handler) EmbeddingsHealth(w http.ResponseWriter, r *http.Request) {
	report := h.searcher.Health(r.Context())
	status := http.StatusOK
	if !report.AnyHealthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func decodeSearch(r *http.Request) (service.Request, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return decodeMultipart(r)
	}

	var body models.SearchRequest
	if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxJSONBody)).Decode(&body); err != nil {
		return service.Request{}, models.NewValidationError("body", "invalid JSON request body")
	}
	return service.Request{
		Input: normalize.Input{
			Type:         body.Type,
			Text:         body.Text,
			InstagramRef: body.InstagramRef,
			ArtistID:     body.ArtistID,
		},
		Filters: service.Filters{
			Location: models.LocationFilter{City: body.City, State: body.State, CountryCode: body.Country},
			Style:    body.Style,
		},
		Page: service.Page{Limit: body.Limit, Offset: body.Offset},
	}, nil
}

func decodeMultipart(r *http.Request) (service.Request, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, normalize.MaxImageBytes+maxFormOverhead)
	if err := r.ParseMultipartForm(normalize.MaxImageBytes + maxFormOverhead); err != nil {
		return service.Request{}, fmt.Errorf("%w: %v", models.ErrPayloadInvalid, err)
	}

	var image []byte
	file, _, err := r.FormFile("image")
	switch {
	case err == nil:
		defer file.Close()
		image, err = io.ReadAll(io.LimitReader(file, normalize.MaxImageBytes+1))
		if err != nil {
			return service.Request{}, fmt.Errorf("%w: %v", models.ErrPayloadInvalid, err)
		}
		if len(image) > normalize.MaxImageBytes {
			return service.Request{}, fmt.Errorf("%w: image exceeds %d bytes", models.ErrPayloadInvalid, normalize.MaxImageBytes)
		}
	case err != http.ErrMissingFile:
		return service.Request{}, fmt.Errorf("%w: %v", models.ErrPayloadInvalid, err)
	}

	limit, err := intField(r.FormValue("limit"), "limit")
	if err != nil {
		return service.Request{}, err
	}
	offset, err := intField(r.FormValue("offset"), "offset")
	if err != nil {
		return service.Request{}, err
	}
	return service.Request{
		Input: normalize.Input{
			Type:         models.QueryType(r.FormValue("type")),
			Text:         r.FormValue("text"),
			Image:        image,
			InstagramRef: r.FormValue("instagram_url"),
			ArtistID:     r.FormValue("artist_id"),
		},
		Filters: service.Filters{
			Location: models.LocationFilter{
				City:        r.FormValue("city"),
				State:       r.FormValue("state"),
				CountryCode: r.FormValue("country"),
			},
			Style: r.FormValue("style"),
		},
		Page: service.Page{Limit: limit, Offset: offset},
	}, nil
}

func filtersFromQuery(r *http.Request) (service.Filters, service.Page, error) {
	q := r.URL.Query()
	limit, err := intField(q.Get("limit"), "limit")
	if err != nil {
		return service.Filters{}, service.Page{}, err
	}
	offset, err := intField(q.Get("offset"), "offset")
	if err != nil {
		return service.Filters{}, service.Page{}, err
	}
	f := service.Filters{
		Location: models.LocationFilter{City: q.Get("city"), State: q.Get("state"), CountryCode: q.Get("country")},
		Style:    q.Get("style"),
	}
	return f, service.Page{Limit: limit, Offset: offset}, nil
}

func intField(raw, field string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, models.NewValidationError(field, "must be an integer")
	}
	return n, nil
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
