package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"cctp-bridge-go/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

const (
	baseRetryBackoff = 500 * time.Millisecond
	maxRetryBackoff  = 8 * time.Second
	jitterRange      = 0.1 // 10% jitter
)

// Compile-time check: *Client must satisfy Gateway.
var _ Gateway = (*Client)(nil)

// Client is the HTTP implementation of the Gateway contract. All calls carry a
// bounded timeout; transient failures surface as TimeoutError so the poller
// retries on the next tick instead of guessing an outcome.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	maxRetries int
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

func NewClient(cfg models.GatewayConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("gateway base URL cannot be empty")
	}
	if cfg.RequestTimeout <= 0 {
		return nil, fmt.Errorf("gateway request timeout must be positive, got %v", cfg.RequestTimeout)
	}

	httpClient, err := createCustomHttpClient(cfg.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ChainGateway",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			zap.L().Warn("Gateway circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		timeout:    cfg.RequestTimeout,
		maxRetries: cfg.MaxRetries,
		httpClient: httpClient,
		breaker:    breaker,
	}, nil
}

func createCustomHttpClient(timeout time.Duration) (*http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return nil, err
	}

	return &http.Client{
		Transport: tr,
		Timeout:   timeout,
	}, nil
}

type submitBurnRequest struct {
	WalletId         string `json:"wallet_id"`
	Amount           string `json:"amount"`
	DestinationChain string `json:"destination_chain"`
}

type submitBurnResponse struct {
	BurnRequestId string `json:"burn_request_id"`
}

func (c *Client) SubmitBurn(ctx context.Context, params SubmitBurnParams) (*models.BurnSubmission, error) {
	body := submitBurnRequest{
		WalletId:         params.WalletId,
		Amount:           params.Amount.String(),
		DestinationChain: params.DestinationChain,
	}

	var resp submitBurnResponse
	if err := c.do(ctx, http.MethodPost, "/v1/burns", params.IdempotencyKey, body, &resp); err != nil {
		return nil, err
	}
	if resp.BurnRequestId == "" {
		return nil, &RejectedError{Code: "EMPTY_RESPONSE", Message: "gateway returned no burn request id"}
	}

	zap.L().Info("Burn submitted to gateway",
		zap.String("burn_request_id", resp.BurnRequestId),
		zap.String("wallet_id", params.WalletId),
		zap.String("amount", params.Amount.String()),
		zap.String("destination_chain", params.DestinationChain))

	return &models.BurnSubmission{BurnRequestId: resp.BurnRequestId}, nil
}

type requestStatusResponse struct {
	Hash       string `json:"hash"`
	Confirmed  bool   `json:"confirmed"`
	FeeCharged string `json:"fee_charged"`
}

func (c *Client) GetBurnStatus(ctx context.Context, burnRequestId string) (*models.BurnStatus, error) {
	var resp requestStatusResponse
	if err := c.doWithRetry(ctx, http.MethodGet, "/v1/burns/"+burnRequestId, nil, &resp); err != nil {
		return nil, err
	}
	return &models.BurnStatus{Hash: resp.Hash, Confirmed: resp.Confirmed}, nil
}

type attestationResponse struct {
	AttestationHash string `json:"attestation_hash"`
}

func (c *Client) GetAttestation(ctx context.Context, burnHash string) (*models.Attestation, error) {
	var resp attestationResponse
	err := c.doWithRetry(ctx, http.MethodGet, "/v1/attestations/"+burnHash, nil, &resp)
	if err != nil {
		if re, ok := AsRejected(err); ok && re.Code == "NOT_FOUND" {
			return nil, ErrNotYetAvailable
		}
		return nil, err
	}
	if resp.AttestationHash == "" {
		return nil, ErrNotYetAvailable
	}
	return &models.Attestation{AttestationHash: resp.AttestationHash}, nil
}

type submitMintRequest struct {
	AttestationHash    string `json:"attestation_hash"`
	DestinationAddress string `json:"destination_address"`
}

type submitMintResponse struct {
	MintRequestId string `json:"mint_request_id"`
}

func (c *Client) SubmitMint(ctx context.Context, params SubmitMintParams) (*models.MintSubmission, error) {
	body := submitMintRequest{
		AttestationHash:    params.AttestationHash,
		DestinationAddress: params.DestinationAddress,
	}

	var resp submitMintResponse
	if err := c.do(ctx, http.MethodPost, "/v1/mints", params.IdempotencyKey, body, &resp); err != nil {
		return nil, err
	}
	if resp.MintRequestId == "" {
		return nil, &RejectedError{Code: "EMPTY_RESPONSE", Message: "gateway returned no mint request id"}
	}

	zap.L().Info("Mint submitted to gateway",
		zap.String("mint_request_id", resp.MintRequestId),
		zap.String("destination_address", params.DestinationAddress))

	return &models.MintSubmission{MintRequestId: resp.MintRequestId}, nil
}

func (c *Client) GetMintStatus(ctx context.Context, mintRequestId string) (*models.MintStatus, error) {
	var resp requestStatusResponse
	if err := c.doWithRetry(ctx, http.MethodGet, "/v1/mints/"+mintRequestId, nil, &resp); err != nil {
		return nil, err
	}

	status := &models.MintStatus{Hash: resp.Hash, Confirmed: resp.Confirmed}
	if resp.FeeCharged != "" {
		fee, err := decimal.NewFromString(resp.FeeCharged)
		if err != nil {
			return nil, fmt.Errorf("invalid fee_charged %q from gateway: %w", resp.FeeCharged, err)
		}
		status.FeeCharged = fee
	}
	return status, nil
}

func (c *Client) CancelPending(ctx context.Context, requestId string) error {
	err := c.do(ctx, http.MethodPost, "/v1/requests/"+requestId+"/cancel", uuid.New().String(), nil, nil)
	if err != nil {
		if re, ok := AsRejected(err); ok && re.Code == "TOO_LATE" {
			return ErrTooLate
		}
		return err
	}
	return nil
}

func (c *Client) AcceleratePending(ctx context.Context, requestId string) error {
	err := c.do(ctx, http.MethodPost, "/v1/requests/"+requestId+"/accelerate", uuid.New().String(), nil, nil)
	if err != nil {
		if re, ok := AsRejected(err); ok && re.Code == "UNSUPPORTED" {
			return ErrUnsupported
		}
		return err
	}
	return nil
}

func (c *Client) GetFeeSchedule(ctx context.Context) (*models.FeeSchedule, error) {
	var resp models.FeeSchedule
	if err := c.doWithRetry(ctx, http.MethodGet, "/v1/fees", nil, &resp); err != nil {
		return nil, err
	}
	resp.FetchedAt = time.Now().UTC()
	return &resp, nil
}

// doWithRetry retries idempotent reads with jittered exponential backoff.
// Writes go through do directly; the idempotency key makes provider-side
// replays safe but local retry policy stays with the poller.
func (c *Client) doWithRetry(ctx context.Context, method, path string, body, out any) error {
	var lastErr error
	backoff := baseRetryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			jitter := 1 + jitterRange*(2*rand.Float64()-1)
			select {
			case <-time.After(time.Duration(float64(backoff) * jitter)):
			case <-ctx.Done():
				return &TimeoutError{Op: method + " " + path, Err: ctx.Err()}
			}
			backoff *= 2
			if backoff > maxRetryBackoff {
				backoff = maxRetryBackoff
			}
		}

		lastErr = c.do(ctx, method, path, "", body, out)
		if lastErr == nil || !IsTimeout(lastErr) {
			return lastErr
		}

		zap.L().Debug("Retrying gateway request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}

	return lastErr
}

type gatewayErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, body, out any) error {
	op := method + " " + path

	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	// Only transport failures and 5xx count against the breaker. Definitive
	// 4xx verdicts (including routine attestation 404s) are provider answers,
	// not provider outages.
	result, err := c.breaker.Execute(func() (any, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, &TimeoutError{Op: op, Err: err}
		}
		defer func() {
			if err := resp.Body.Close(); err != nil {
				zap.L().Warn("Failed to close response body", zap.Error(err))
			}
		}()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, &TimeoutError{Op: op, Err: err}
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, &TimeoutError{Op: op, Err: fmt.Errorf("gateway returned status %d", resp.StatusCode)}
		}
		return &gatewayResponse{status: resp.StatusCode, body: data}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return &TimeoutError{Op: op, Err: err}
		}
		return err
	}

	resp := result.(*gatewayResponse)
	switch {
	case resp.status >= 200 && resp.status < 300:
		if out != nil {
			if err := json.Unmarshal(resp.body, out); err != nil {
				return fmt.Errorf("failed to decode gateway response for %s: %w", op, err)
			}
		}
		return nil
	case resp.status == http.StatusNotFound:
		return &RejectedError{Code: "NOT_FOUND", Message: "resource not found"}
	default:
		var gerr gatewayErrorResponse
		if err := json.Unmarshal(resp.body, &gerr); err != nil || gerr.Code == "" {
			gerr = gatewayErrorResponse{
				Code:    fmt.Sprintf("HTTP_%d", resp.status),
				Message: strings.TrimSpace(string(resp.body)),
			}
		}
		return &RejectedError{Code: gerr.Code, Message: gerr.Message}
	}
}

type gatewayResponse struct {
	status int
	body   []byte
}
