package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/guttosm/quoteflow/internal/broker"
	"github.com/guttosm/quoteflow/internal/domain/dto"
	"github.com/guttosm/quoteflow/internal/domain/models"
	"github.com/guttosm/quoteflow/internal/middleware"
	"github.com/guttosm/quoteflow/internal/producer"
	"github.com/guttosm/quoteflow/internal/service"
)

// multipartOverhead is the slack allowed on top of the file limit for
// boundaries, headers and the country field.
const multipartOverhead = 64 << 10

// CSVPublisher enqueues one uploaded CSV; *producer.Producer satisfies it.
type CSVPublisher interface {
	PublishCSV(ctx context.Context, filename string, r io.Reader, country string) (*models.Receipt, error)
}

// Handler provides HTTP handlers for CSV uploads and quote lookups.
//
// Responsibilities:
//   - Validate incoming form fields and query parameters
//   - Delegate to the producer and the quote service
//   - Map domain errors to HTTP status codes with dto.ErrorResponse bodies
type Handler struct {
	pub      CSVPublisher
	quotes   service.QuoteService
	maxBytes int64
}

// NewHandler constructs a new Handler instance.
//
// Parameters:
//   - pub: publishes uploaded CSVs to the broker.
//   - quotes: reads persisted quotes.
//   - maxBytes: largest accepted request body for uploads; <= 0 disables the cap.
func NewHandler(pub CSVPublisher, quotes service.QuoteService, maxBytes int64) *Handler {
	return &Handler{pub: pub, quotes: quotes, maxBytes: maxBytes}
}

// PublishCSV handles POST /publish/finance-yahoo/csv requests.
//
// PublishCSV godoc
// @Summary      Publish a Yahoo Finance CSV
// @Description  Validates the uploaded CSV and enqueues it for asynchronous ingestion
// @Tags         publish
// @Accept       multipart/form-data
// @Produce      json
// @Param        file     formData  file    true   "CSV file (UTF-8, optional BOM)"
// @Param        country  formData  string  false  "Country the quotes belong to" example(usa)
// @Success      200      {object}  models.Receipt     "Published"
// @Failure      400      {object}  dto.ErrorResponse  "Bad Request"
// @Failure      503      {object}  dto.ErrorResponse  "Broker Unavailable"
// @Failure      500      {object}  dto.ErrorResponse  "Internal Error"
// @Router       /publish/finance-yahoo/csv [post]
func (h *Handler) PublishCSV(c *gin.Context) {
	if h.maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+multipartOverhead)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.AbortWithError(c, http.StatusBadRequest, "invalid upload", producer.ErrTooLarge)
			return
		}
		middleware.AbortWithError(c, http.StatusBadRequest, "file is required", err)
		return
	}

	f, err := fh.Open()
	if err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, "cannot read uploaded file", err)
		return
	}
	defer f.Close()

	receipt, err := h.pub.PublishCSV(c.Request.Context(), fh.Filename, f, c.PostForm("country"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, receipt)
	case errors.Is(err, producer.ErrValidation):
		middleware.AbortWithError(c, http.StatusBadRequest, "invalid upload", err)
	case errors.Is(err, broker.ErrUnavailable):
		middleware.AbortWithError(c, http.StatusServiceUnavailable, "message broker unavailable", err)
	default:
		middleware.AbortWithError(c, http.StatusInternalServerError, "failed to publish csv", err)
	}
}

// GetLatestQuote handles GET /api/v1/quotes/latest requests.
//
// GetLatestQuote godoc
// @Summary      Latest stored quote
// @Description  Returns the most recently ingested quote for a symbol
// @Tags         quotes
// @Produce      json
// @Param        symbol  query     string  true  "Ticker symbol" example(AAPL)
// @Success      200     {object}  dto.QuoteResponse  "Success"
// @Failure      400     {object}  dto.ErrorResponse  "Bad Request"
// @Failure      404     {object}  dto.ErrorResponse  "Not Found"
// @Failure      500     {object}  dto.ErrorResponse  "Internal Error"
// @Router       /api/v1/quotes/latest [get]
func (h *Handler) GetLatestQuote(c *gin.Context) {
	symbol := strings.TrimSpace(c.Query("symbol"))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("symbol is required", nil))
		return
	}

	q, err := h.quotes.LatestQuote(c.Request.Context(), symbol)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse("failed to fetch quote", err))
		return
	}
	if q == nil {
		c.JSON(http.StatusNotFound, dto.NewErrorResponse("no data found", nil))
		return
	}

	resp := dto.QuoteResponse{
		Symbol:    q.Symbol,
		Name:      q.Name,
		Country:   q.Country,
		CreatedAt: q.CreatedAt,
	}
	if q.Price.Valid {
		px := q.Price.Decimal.InexactFloat64()
		resp.Price = &px
	}
	c.JSON(http.StatusOK, resp)
}
