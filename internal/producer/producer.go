package producer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/guttosm/quoteflow/internal/broker"
	"github.com/guttosm/quoteflow/internal/domain/models"
	"github.com/guttosm/quoteflow/internal/logger"
)

var (
	// ErrValidation is the parent of every rejection caused by the upload itself.
	ErrValidation = errors.New("invalid upload")
	// ErrEmptyUpload is returned for a zero-byte file.
	ErrEmptyUpload = fmt.Errorf("%w: csv is empty, send a file with content", ErrValidation)
	// ErrInvalidEncoding is returned when the file is not UTF-8.
	ErrInvalidEncoding = fmt.Errorf("%w: csv must be UTF-8 encoded", ErrValidation)
	// ErrTooLarge is returned when the file exceeds the configured limit.
	ErrTooLarge = fmt.Errorf("%w: csv exceeds the upload size limit", ErrValidation)
)

const statusPublished = "published"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Publisher delivers one serialized envelope; *broker.Manager satisfies it.
type Publisher interface {
	Publish(ctx context.Context, body []byte, opts broker.PublishOptions) error
}

// Producer validates CSV uploads and enqueues them as envelopes.
type Producer struct {
	pub      Publisher
	exchange string
	maxBytes int64
	log      zerolog.Logger
}

// NewProducer returns a Producer publishing to exchange. maxBytes <= 0 disables the size limit.
func NewProducer(pub Publisher, exchange string, maxBytes int64) *Producer {
	return &Producer{
		pub:      pub,
		exchange: exchange,
		maxBytes: maxBytes,
		log:      logger.Component("producer"),
	}
}

// PublishCSV reads the whole upload, validates it and publishes one persistent envelope.
//
// Behavior:
//   - empty input: ErrEmptyUpload
//   - input over the size limit: ErrTooLarge
//   - invalid UTF-8 after an optional BOM: ErrInvalidEncoding
//   - broker failures wrap broker.ErrUnavailable
//
// The receipt's byte count is the raw input length, BOM included.
func (p *Producer) PublishCSV(ctx context.Context, filename string, r io.Reader, country string) (*models.Receipt, error) {
	if filename == "" {
		filename = models.DefaultFilename
	}

	raw, err := p.read(r)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, ErrEmptyUpload
	}

	content := bytes.TrimPrefix(raw, utf8BOM)
	if !utf8.Valid(content) {
		return nil, ErrInvalidEncoding
	}

	body, err := encodeEnvelope(models.Envelope{
		Filename: filename,
		Content:  string(content),
		Country:  country,
	})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}

	id := uuid.NewString()
	if err := p.pub.Publish(ctx, body, broker.PublishOptions{MessageID: id}); err != nil {
		p.log.Error().Err(err).Str("file", filename).Msg("publish failed")
		return nil, fmt.Errorf("publish %s: %w", filename, err)
	}

	p.log.Info().
		Str("file", filename).
		Str("country", country).
		Int("bytes", len(raw)).
		Str("message_id", id).
		Msg("csv published")

	return &models.Receipt{
		Status:    statusPublished,
		Exchange:  p.exchange,
		Filename:  filename,
		Bytes:     len(raw),
		MessageID: id,
	}, nil
}

func (p *Producer) read(r io.Reader) ([]byte, error) {
	if p.maxBytes <= 0 {
		raw, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("read upload: %w", err)
		}
		return raw, nil
	}

	raw, err := io.ReadAll(io.LimitReader(r, p.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(raw)) > p.maxBytes {
		return nil, ErrTooLarge
	}
	return raw, nil
}

// encodeEnvelope marshals env without HTML escaping so the content survives byte for byte.
func encodeEnvelope(env models.Envelope) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(env); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
