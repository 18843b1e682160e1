package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/quarklabs/chainrisk/internal/core/domain"
	"github.com/quarklabs/chainrisk/internal/metrics"
)

// Gateway JSON-RPC methods.
const (
	methodGetTransaction       = "cr_getTransaction"
	methodGetAddressHistory    = "cr_getAddressHistory"
	methodGetBalance           = "cr_getBalance"
	methodGetBlockTransactions = "cr_getBlockTransactions"
	methodHealth               = "cr_health"
)

// HTTPNodeSource talks JSON-RPC 2.0 to a chain node gateway. Raw payloads
// are passed through byte-for-byte so normalization stays deterministic.
type HTTPNodeSource struct {
	chainID    domain.ChainID
	name       string
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      Policy
}

// NewHTTPNodeSource creates an HTTP node source. rps limits outgoing request
// rate; 0 disables limiting.
func NewHTTPNodeSource(
	chainID domain.ChainID,
	name, endpoint string,
	rps int,
	retry Policy,
) *HTTPNodeSource {
	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), rps)
	}
	return &HTTPNodeSource{
		chainID:  chainID,
		name:     name,
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: limiter,
		retry:   retry,
	}
}

func (s *HTTPNodeSource) ChainID() domain.ChainID { return s.chainID }
func (s *HTTPNodeSource) Name() string            { return s.name }

func (s *HTTPNodeSource) FetchRawTransaction(ctx context.Context, txHash string) ([]byte, error) {
	result, err := s.callWithRetry(ctx, methodGetTransaction, []any{s.chainID, txHash})
	if err != nil {
		return nil, err
	}
	return []byte(result), nil
}

func (s *HTTPNodeSource) FetchRawAddressHistory(
	ctx context.Context,
	address, cursor string,
	limit int,
) (*HistoryPage, error) {
	result, err := s.callWithRetry(ctx, methodGetAddressHistory, []any{s.chainID, address, cursor, limit})
	if err != nil {
		return nil, err
	}
	return parseHistoryPage(result)
}

func (s *HTTPNodeSource) FetchBalance(
	ctx context.Context,
	address, asset string,
) (decimal.Decimal, error) {
	result, err := s.callWithRetry(ctx, methodGetBalance, []any{s.chainID, address, asset})
	if err != nil {
		return decimal.Decimal{}, err
	}
	return parseBalance(result)
}

func (s *HTTPNodeSource) FetchBlockTransactions(
	ctx context.Context,
	height uint64,
) ([][]byte, error) {
	result, err := s.callWithRetry(ctx, methodGetBlockTransactions, []any{s.chainID, height})
	if err != nil {
		return nil, err
	}
	return parseBlockTransactions(result)
}

func (s *HTTPNodeSource) Health(ctx context.Context) error {
	_, err := s.call(ctx, methodHealth, []any{s.chainID})
	return err
}

func (s *HTTPNodeSource) callWithRetry(
	ctx context.Context,
	method string,
	params []any,
) (json.RawMessage, error) {
	var result json.RawMessage
	err := s.retry.Do(ctx, method, func() error {
		var err error
		result, err = s.call(ctx, method, params)
		return err
	})
	return result, err
}

// call makes a single JSON-RPC call.
func (s *HTTPNodeSource) call(
	ctx context.Context,
	method string,
	params []any,
) (json.RawMessage, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrTimeout, err)
		}
	}

	start := time.Now()
	metrics.SourceCallsTotal.WithLabelValues(string(s.chainID), s.name, method).Inc()

	reqBody := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.recordError("network")
		return nil, fmt.Errorf("gateway call: %w", err)
	}
	defer resp.Body.Close()

	metrics.SourceLatency.WithLabelValues(string(s.chainID), s.name, method).
		Observe(time.Since(start).Seconds())

	if resp.StatusCode == http.StatusTooManyRequests {
		s.recordError("throttled")
		return nil, fmt.Errorf("rate limited (429), retry after: %s", resp.Header.Get("Retry-After"))
	}
	if resp.StatusCode == http.StatusForbidden {
		s.recordError("blocked")
		return nil, fmt.Errorf("blocked (403)")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		s.recordError("read")
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		s.recordError("http")
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		s.recordError("parse")
		return nil, fmt.Errorf("parse response: %w", err)
	}

	if rpcResp.Error != nil {
		if isNotFound(rpcResp.Error.Code, rpcResp.Error.Message) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, rpcResp.Error.Message)
		}
		s.recordError("rpc")
		return nil, fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
		return nil, fmt.Errorf("%w: empty result for %s", domain.ErrNotFound, method)
	}

	return rpcResp.Result, nil
}

func (s *HTTPNodeSource) recordError(kind string) {
	metrics.SourceErrorsTotal.WithLabelValues(string(s.chainID), s.name, kind).Inc()
}

func isNotFound(code int, message string) bool {
	return code == -32004 || strings.Contains(strings.ToLower(message), "not found")
}
