// internal/provider/chainworker/client.go
package chainworker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/provider"

	"go.uber.org/zap"
)

const transfersPath = "/v1/transfers"

type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

// Client calls the chain settlement worker over HTTP. Requests are signed
// with HMAC-SHA256 over "<body>.<unix timestamp>".
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

var _ provider.SettlementWorker = (*Client)(nil)

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		now:        time.Now,
	}
}

func (c *Client) Name() string { return "chainworker" }

type transferPayload struct {
	Mint      string `json:"mint"`
	Amount    string `json:"amount"`
	From      string `json:"from"`
	To        string `json:"to"`
	Reference string `json:"reference"`
}

func (c *Client) Transfer(ctx context.Context, req *provider.TransferRequest) (*provider.TransferResult, error) {
	payload, err := json.Marshal(transferPayload{
		Mint:      req.Mint,
		Amount:    domain.FormatAmount(req.Amount),
		From:      req.FromAddress,
		To:        req.ToAddress,
		Reference: req.Reference,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transfer: %w", err)
	}

	ts := c.now().Unix()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+transfersPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.Reference)
	httpReq.Header.Set("X-API-Key", c.cfg.APIKey)
	httpReq.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	httpReq.Header.Set("X-Signature", Sign(payload, ts, c.cfg.APISecret))

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn("settlement worker request failed",
			zap.String("reference", req.Reference),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", provider.ErrWorkerUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", provider.ErrWorkerUnavailable, err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests {
		c.logger.Warn("settlement worker returned retryable status",
			zap.String("reference", req.Reference),
			zap.Int("status_code", resp.StatusCode),
			zap.String("response", string(body)))
		return nil, fmt.Errorf("%w: status %d", provider.ErrWorkerUnavailable, resp.StatusCode)
	}

	var result provider.TransferResult
	if err := json.Unmarshal(body, &result); err != nil {
		if resp.StatusCode >= 400 {
			return &provider.TransferResult{Success: false, Error: fmt.Sprintf("status %d: %s", resp.StatusCode, string(body))}, nil
		}
		return nil, fmt.Errorf("%w: decode response: %v", provider.ErrWorkerUnavailable, err)
	}
	if resp.StatusCode >= 400 {
		result.Success = false
		if result.Error == "" {
			result.Error = fmt.Sprintf("status %d", resp.StatusCode)
		}
	}
	if result.Success && result.ExternalTxID == "" {
		return nil, fmt.Errorf("%w: success without external_tx_id", provider.ErrWorkerUnavailable)
	}

	c.logger.Info("settlement worker answered",
		zap.String("reference", req.Reference),
		zap.Bool("success", result.Success),
		zap.String("external_tx", result.ExternalTxID),
		zap.Int("status_code", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))
	return &result, nil
}

// Sign computes the hex HMAC-SHA256 of "<payload>.<timestamp>".
func Sign(payload []byte, timestamp int64, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	h.Write([]byte("." + strconv.FormatInt(timestamp, 10)))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks a signature produced by Sign in constant time.
func Verify(payload []byte, timestamp int64, secret, signature string) bool {
	expected, err := hex.DecodeString(Sign(payload, timestamp, secret))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}
