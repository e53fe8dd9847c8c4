package service

import (
	"context"
	"strings"

	"github.com/guttosm/quoteflow/internal/domain/models"
	"github.com/guttosm/quoteflow/internal/storage"
)

// QuoteService defines read access to stored quotes.
type QuoteService interface {
	LatestQuote(ctx context.Context, symbol string) (*models.Quote, error)
}

type quoteService struct {
	repo storage.QuotesRepository
}

func NewQuoteService(repo storage.QuotesRepository) QuoteService {
	return &quoteService{repo: repo}
}

// LatestQuote trims symbol the same way ingestion does before looking it up.
func (s *quoteService) LatestQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	return s.repo.LatestQuote(ctx, strings.TrimSpace(symbol))
}
