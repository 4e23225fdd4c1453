// Package feed reads and writes the external spreadsheet-style order feed.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/storefront/backend/internal/domain/order"
	"github.com/storefront/backend/internal/domain/shared"
	"github.com/storefront/backend/internal/infrastructure/config"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxFeedResponseSize limits the response body read from the feed
const maxFeedResponseSize = 10 * 1024 * 1024

// ErrFeedSchemaMismatch is returned when the header row does not match the expected columns
var ErrFeedSchemaMismatch = errors.New("feed header does not match expected columns")

// Column positions in each feed row
const (
	colCustomerName = iota
	colEmail
	colPhone
	colAddress
	colProduct
	colQuantity
	colPrice
	colOrderDate
	colStatus
)

// ExpectedHeader lists the required feed columns in order. Status may be absent.
var ExpectedHeader = []string{
	"Customer Name",
	"Email",
	"Phone",
	"Address",
	"Product",
	"Quantity",
	"Price",
	"Order Date",
	"Status",
}

// SheetClient implements the order feed adapter over HTTP
type SheetClient struct {
	name       string
	readURL    string
	writeURL   string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewSheetClient creates a feed client from configuration
func NewSheetClient(cfg config.FeedConfig, logger *zap.Logger) *SheetClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	writeURL := cfg.WriteURL
	if writeURL == "" {
		writeURL = cfg.ReadURL
	}
	return &SheetClient{
		name:       cfg.Name,
		readURL:    cfg.ReadURL,
		writeURL:   writeURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger.Named("feed").With(zap.String("feed", cfg.Name)),
	}
}

// Name returns the origin label attached to fetched orders
func (c *SheetClient) Name() string {
	return c.name
}

// Fetch reads the whole feed and normalizes every data row.
// Any transport, decoding or schema problem is reported as FeedUnavailable.
func (c *SheetClient) Fetch(ctx context.Context) ([]order.Record, error) {
	if c.readURL == "" {
		return nil, shared.Wrapf(shared.ErrFeedUnavailable, "feed %q has no read url", c.name)
	}
	body, err := c.do(ctx, http.MethodGet, c.readURL, nil)
	if err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(body) {
		return nil, shared.Wrapf(shared.ErrFeedUnavailable, "feed returned malformed JSON")
	}
	values := gjson.GetBytes(body, "values")
	if !values.IsArray() {
		return nil, shared.Wrapf(shared.ErrFeedUnavailable, "feed response has no values array")
	}

	rows := values.Array()
	if len(rows) == 0 {
		return []order.Record{}, nil
	}
	if err := validateHeader(cells(rows[0])); err != nil {
		return nil, shared.Wrap(shared.ErrFeedUnavailable, err)
	}

	records := make([]order.Record, 0, len(rows)-1)
	for i, row := range rows[1:] {
		records = append(records, c.toRecord(order.FirstDataRow+i, cells(row)))
	}
	c.logger.Debug("Fetched order feed", zap.Int("rows", len(records)))
	return records, nil
}

// UpdateStatus writes status into the status cell of rowIndex
func (c *SheetClient) UpdateStatus(ctx context.Context, rowIndex int, status string) error {
	if rowIndex < order.FirstDataRow {
		return shared.Wrapf(shared.ErrInvalidInput, "row index %d is before the first data row", rowIndex)
	}
	if c.writeURL == "" {
		return shared.Wrapf(shared.ErrFeedUnavailable, "feed %q has no write url", c.name)
	}

	payload, err := json.Marshal(map[string]any{
		"action": "updateStatus",
		"row":    rowIndex,
		"status": status,
	})
	if err != nil {
		return fmt.Errorf("feed: failed to marshal status update: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, c.writeURL, payload)
	if err != nil {
		return err
	}
	if ok := gjson.GetBytes(body, "success"); ok.Exists() && !ok.Bool() {
		msg := gjson.GetBytes(body, "error").String()
		return shared.Wrapf(shared.ErrFeedUnavailable, "feed rejected status update for row %d: %s", rowIndex, msg)
	}

	c.logger.Info("Feed status updated",
		zap.Int("row_index", rowIndex),
		zap.String("status", status),
	)
	return nil
}

func (c *SheetClient) do(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, shared.Wrap(shared.ErrFeedUnavailable, err)
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, shared.Wrap(shared.ErrFeedUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, shared.Wrap(shared.ErrFeedUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedResponseSize))
	if err != nil {
		return nil, shared.Wrap(shared.ErrFeedUnavailable, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode >= 400 {
		return nil, shared.Wrapf(shared.ErrFeedUnavailable, "feed returned HTTP %d", resp.StatusCode)
	}
	return body, nil
}

func (c *SheetClient) toRecord(rowIndex int, row []string) order.Record {
	rawQty := cell(row, colQuantity)
	rawPrice := cell(row, colPrice)
	return order.Record{
		RowIndex:     rowIndex,
		Origin:       c.name,
		CustomerName: cell(row, colCustomerName),
		Email:        cell(row, colEmail),
		Phone:        cell(row, colPhone),
		Address:      cell(row, colAddress),
		ProductName:  cell(row, colProduct),
		Quantity:     order.ParseQuantity(rawQty),
		Price:        order.ParsePrice(rawPrice),
		RawQuantity:  rawQty,
		RawPrice:     rawPrice,
		OrderDate:    cell(row, colOrderDate),
		Status:       order.NormalizeStatus(cell(row, colStatus)),
	}
}

// validateHeader fails fast when columns are missing or out of place
func validateHeader(header []string) error {
	required := ExpectedHeader[:colStatus]
	if len(header) < len(required) {
		return fmt.Errorf("%w: got %d columns, want at least %d", ErrFeedSchemaMismatch, len(header), len(required))
	}
	for i, want := range ExpectedHeader {
		if i >= len(header) {
			break
		}
		if !strings.EqualFold(strings.TrimSpace(header[i]), want) {
			return fmt.Errorf("%w: column %d is %q, want %q", ErrFeedSchemaMismatch, i+1, header[i], want)
		}
	}
	return nil
}

// cells converts a JSON row into strings; numbers keep their textual form
func cells(row gjson.Result) []string {
	items := row.Array()
	out := make([]string, len(items))
	for i, item := range items {
		if item.Type == gjson.Null {
			continue
		}
		out[i] = item.String()
	}
	return out
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
