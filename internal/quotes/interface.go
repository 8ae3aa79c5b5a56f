package quotes

import (
	"context"

	"stockd/internal/models"
)

// ServiceInterface defines the interface for quote service operations
type ServiceInterface interface {
	// GetQuote returns the current market snapshot for a symbol
	GetQuote(ctx context.Context, req *models.QuoteRequest) (*models.QuoteResponse, error)

	// GetHistory returns a candle series for a symbol over a range/interval
	GetHistory(ctx context.Context, req *models.HistoryRequest) (*models.HistoryResponse, error)

	// GetPrediction returns a trend estimate derived from daily history
	GetPrediction(ctx context.Context, req *models.PredictionRequest) (*models.PredictionResponse, error)
}

// Ensure Service implements ServiceInterface
var _ ServiceInterface = (*Service)(nil)
