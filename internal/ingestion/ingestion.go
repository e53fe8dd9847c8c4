package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/guttosm/quoteflow/internal/domain/models"
	"github.com/guttosm/quoteflow/internal/logger"
)

// Sink persists one envelope's quotes as a unit. storage.QuotesRepository satisfies it.
//
// InsertQuotesBatch returns false without error when the batch key was already stored.
type Sink interface {
	InsertQuotesBatch(ctx context.Context, batch models.Batch) (bool, error)
}

// Result summarizes what happened to one envelope.
type Result struct {
	Parsed    int
	Valid     int
	Inserted  int
	Duplicate bool
}

// Processor turns a decoded envelope into stored quotes.
type Processor struct {
	sink Sink
	now  func() time.Time
	log  zerolog.Logger
}

// NewProcessor returns a Processor writing to sink.
func NewProcessor(sink Sink) *Processor {
	return &Processor{
		sink: sink,
		now:  time.Now,
		log:  logger.Component("ingestion"),
	}
}

// Process parses env.Content, normalizes its rows and stores them in one batch.
//
// Behavior:
//   - no data rows, or no row with a symbol: nothing is written, zero Result, nil error.
//   - a redelivered message (same batch key) reports Duplicate and inserts nothing.
//   - parse and storage errors are returned; nothing is partially written.
func (p *Processor) Process(ctx context.Context, env models.Envelope) (Result, error) {
	var res Result

	rows, err := ParseRows(env.Content)
	if err != nil {
		return res, fmt.Errorf("parse %s: %w", env.Filename, err)
	}
	res.Parsed = len(rows)
	p.log.Info().Str("file", env.Filename).Int("rows", res.Parsed).Msg("csv parsed")
	if res.Parsed == 0 {
		p.log.Info().Str("file", env.Filename).Msg("no data rows, skipping")
		return res, nil
	}

	quotes := ExtractRows(rows, env.Country, p.now())
	res.Valid = len(quotes)
	if res.Valid == 0 {
		p.log.Info().Str("file", env.Filename).Msg("no valid rows, skipping")
		return res, nil
	}

	batch := models.Batch{
		Key:      BatchKey(env),
		Filename: env.Filename,
		Country:  env.Country,
		Rows:     quotes,
	}

	start := time.Now()
	inserted, err := p.sink.InsertQuotesBatch(ctx, batch)
	if err != nil {
		return res, fmt.Errorf("store %s: %w", env.Filename, err)
	}
	if !inserted {
		res.Duplicate = true
		p.log.Warn().Str("file", env.Filename).Str("batch_key", batch.Key).Msg("batch already stored, skipping")
		return res, nil
	}

	res.Inserted = res.Valid
	p.log.Info().
		Str("file", env.Filename).
		Int("inserted", res.Inserted).
		Dur("elapsed", time.Since(start)).
		Msg("batch stored")
	return res, nil
}

// BatchKey identifies one published message. A broker redelivery carries the
// same message id and maps to the same key, while every upload gets a fresh id,
// so re-uploading an identical file appends its rows again.
//
// Messages without an id fall back to a hash of filename and content.
func BatchKey(env models.Envelope) string {
	h := sha256.New()
	if env.MessageID != "" {
		h.Write([]byte("message"))
		h.Write([]byte{0})
		h.Write([]byte(env.MessageID))
		return hex.EncodeToString(h.Sum(nil))
	}
	h.Write([]byte("content"))
	h.Write([]byte{0})
	h.Write([]byte(env.Filename))
	h.Write([]byte{0})
	h.Write([]byte(env.Content))
	return hex.EncodeToString(h.Sum(nil))
}
