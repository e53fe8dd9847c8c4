package service

import (
	"context"
	"errors"
	"testing"

	"github.com/guttosm/quoteflow/internal/domain/models"
)

type stubRepo struct {
	quote  *models.Quote
	err    error
	symbol string
}

func (s *stubRepo) InsertQuotesBatch(_ context.Context, _ models.Batch) (bool, error) {
	return false, nil
}

func (s *stubRepo) LatestQuote(_ context.Context, symbol string) (*models.Quote, error) {
	s.symbol = symbol
	return s.quote, s.err
}

func TestQuoteService_TableDriven(t *testing.T) {
	cases := []struct {
		name    string
		repo    *stubRepo
		wantNil bool
		wantErr bool
	}{
		{
			name: "found",
			repo: &stubRepo{quote: &models.Quote{Symbol: "AAPL", Country: "Usa"}},
		},
		{
			name:    "not found",
			repo:    &stubRepo{},
			wantNil: true,
		},
		{
			name:    "error",
			repo:    &stubRepo{err: errors.New("boom")},
			wantNil: true,
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := NewQuoteService(tc.repo)
			out, err := svc.LatestQuote(context.Background(), "  AAPL ")
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if (out == nil) != tc.wantNil {
				t.Fatalf("out = %+v, wantNil %v", out, tc.wantNil)
			}
			if tc.repo.symbol != "AAPL" {
				t.Fatalf("symbol not trimmed: %q", tc.repo.symbol)
			}
		})
	}
}
