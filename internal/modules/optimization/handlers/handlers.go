// Package handlers provides HTTP handlers for allocation requests.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/modules/charts"
	"github.com/aristath/allocator/internal/modules/optimization"
)

// DefaultStartDate is used when a request omits start_date
const DefaultStartDate = "2022-01-01"

// Recommender produces allocations; implemented by optimization.OptimizerService
type Recommender interface {
	Recommend(ctx context.Context, req optimization.Request) (*optimization.Result, error)
}

// Handler handles allocation HTTP requests
type Handler struct {
	service Recommender
	charts  *charts.Service
	now     func() time.Time
	log     zerolog.Logger
}

// NewHandler creates a new allocation handler
func NewHandler(service Recommender, chartService *charts.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		charts:  chartService,
		now:     time.Now,
		log:     log.With().Str("handler", "optimizer").Logger(),
	}
}

// RecommendRequest is the JSON body of POST /recommend
type RecommendRequest struct {
	Symbols      []string `json:"symbols"`
	StartDate    string   `json:"start_date"`
	EndDate      string   `json:"end_date"`
	TargetReturn *float64 `json:"target_return"`
	Strategy     string   `json:"strategy"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// HandleRecommend handles POST /recommend and POST /api/optimizer/recommend
func (h *Handler) HandleRecommend(w http.ResponseWriter, r *http.Request) {
	result, ok := h.recommend(w, r)
	if !ok {
		return
	}

	h.writeJSON(w, http.StatusOK, result.Rounded())
}

// HandleRecommendChart handles POST /api/optimizer/recommend/chart?format=png|svg
func (h *Handler) HandleRecommendChart(w http.ResponseWriter, r *http.Request) {
	format, err := charts.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	result, ok := h.recommend(w, r)
	if !ok {
		return
	}

	img, err := h.charts.RenderAllocation(result, format)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to render allocation chart")
		h.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("X-Run-ID", result.RunID)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(img); err != nil {
		h.log.Error().Err(err).Msg("Failed to write chart response")
	}
}

// recommend decodes the body and runs the service; on failure it has already written the response
func (h *Handler) recommend(w http.ResponseWriter, r *http.Request) (*optimization.Result, bool) {
	var body RecommendRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return nil, false
	}

	req, err := h.toRequest(body)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return nil, false
	}

	result, err := h.service.Recommend(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return nil, false
	}

	return result, true
}

// HandleStrategies handles GET /api/optimizer/strategies
func (h *Handler) HandleStrategies(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"strategies": optimization.Strategies(),
	})
}

func (h *Handler) toRequest(body RecommendRequest) (optimization.Request, error) {
	startStr := body.StartDate
	if startStr == "" {
		startStr = DefaultStartDate
	}
	start, err := time.Parse(domain.DateLayout, startStr)
	if err != nil {
		return optimization.Request{}, fmt.Errorf("invalid start_date %q: expected YYYY-MM-DD", body.StartDate)
	}

	end := domain.TruncateDay(h.now())
	if body.EndDate != "" {
		end, err = time.Parse(domain.DateLayout, body.EndDate)
		if err != nil {
			return optimization.Request{}, fmt.Errorf("invalid end_date %q: expected YYYY-MM-DD", body.EndDate)
		}
	}
	if end.Before(start) {
		return optimization.Request{}, fmt.Errorf("end_date %s is before start_date %s",
			end.Format(domain.DateLayout), start.Format(domain.DateLayout))
	}

	return optimization.Request{
		Symbols:      body.Symbols,
		Start:        start,
		End:          end,
		TargetReturn: body.TargetReturn,
		Strategy:     body.Strategy,
	}, nil
}

// statusForKind maps an optimization failure to an HTTP status
func statusForKind(kind optimization.ErrorKind) int {
	switch kind {
	case optimization.KindNoSymbols:
		return http.StatusBadRequest
	case optimization.KindDataFetch:
		return http.StatusBadGateway
	case optimization.KindInsufficientData,
		optimization.KindNoUsableReturns,
		optimization.KindInfeasibleConstraints,
		optimization.KindDegenerateVolatility:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	kind := optimization.KindOf(err)
	status := statusForKind(kind)

	// Unknown strategy names surface as plain errors from NewStrategy
	if kind == "" && errors.Is(err, optimization.ErrUnknownStrategy) {
		status = http.StatusBadRequest
	}

	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Recommendation failed")
	} else {
		h.log.Debug().Err(err).Str("kind", string(kind)).Msg("Recommendation rejected")
	}

	h.writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: string(kind)})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
