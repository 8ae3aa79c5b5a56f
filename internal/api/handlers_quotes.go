package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"stockd/internal/models"
)

// GetQuote handles quote requests
// GET /api/v1/quotes/{symbol}
func (h *Handlers) GetQuote(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	req := &models.QuoteRequest{
		Symbol:  vars["symbol"],
		Refresh: r.URL.Query().Get("refresh") == "true",
	}

	response, err := h.quoteService.GetQuote(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// GetHistory handles candle series requests
// GET /api/v1/quotes/{symbol}/history
func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	req := &models.HistoryRequest{
		Symbol:   vars["symbol"],
		Range:    r.URL.Query().Get("range"),
		Interval: r.URL.Query().Get("interval"),
	}

	response, err := h.quoteService.GetHistory(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// GetPrediction handles trend estimate requests
// GET /api/v1/quotes/{symbol}/prediction
func (h *Handlers) GetPrediction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	req := &models.PredictionRequest{
		Symbol: vars["symbol"],
	}

	// Window sizes are optional; malformed values fall back to defaults.
	if shortParam := r.URL.Query().Get("short_window"); shortParam != "" {
		if short, err := strconv.Atoi(shortParam); err == nil {
			req.ShortWindow = short
		}
	}
	if longParam := r.URL.Query().Get("long_window"); longParam != "" {
		if long, err := strconv.Atoi(longParam); err == nil {
			req.LongWindow = long
		}
	}

	response, err := h.quoteService.GetPrediction(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}
