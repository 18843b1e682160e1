package source

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/quarklabs/chainrisk/internal/core/domain"
	"github.com/quarklabs/chainrisk/internal/metrics"
)

// grpcInvokeMethod is the gateway's schemaless invoke endpoint. Requests and
// replies are structpb structs; the raw payload travels as a JSON string so
// number precision survives the hop.
const grpcInvokeMethod = "/chainrisk.node.v1.NodeGateway/Invoke"

// GRPCNodeSource talks to a chain node gateway over gRPC.
type GRPCNodeSource struct {
	chainID  domain.ChainID
	name     string
	endpoint string
	conn     *grpc.ClientConn
	retry    Policy
}

// NewGRPCNodeSource dials a gRPC node gateway. TLS is inferred from the
// endpoint scheme or a :443 suffix.
func NewGRPCNodeSource(
	ctx context.Context,
	chainID domain.ChainID,
	name, endpoint string,
	retry Policy,
) (*GRPCNodeSource, error) {
	target := endpoint
	var opts []grpc.DialOption

	if strings.HasPrefix(endpoint, "https://") || strings.HasSuffix(endpoint, ":443") {
		creds := credentials.NewTLS(&tls.Config{})
		opts = append(opts, grpc.WithTransportCredentials(creds))
		target = strings.TrimPrefix(target, "https://")
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		target = strings.TrimPrefix(target, "http://")
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(dialCtx, target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial grpc gateway %s: %w", target, err)
	}

	return &GRPCNodeSource{
		chainID:  chainID,
		name:     name,
		endpoint: endpoint,
		conn:     conn,
		retry:    retry,
	}, nil
}

func (s *GRPCNodeSource) ChainID() domain.ChainID { return s.chainID }
func (s *GRPCNodeSource) Name() string            { return s.name }

// Conn returns the underlying gRPC connection.
func (s *GRPCNodeSource) Conn() *grpc.ClientConn {
	return s.conn
}

// Close cleans up resources.
func (s *GRPCNodeSource) Close() error {
	return s.conn.Close()
}

func (s *GRPCNodeSource) FetchRawTransaction(ctx context.Context, txHash string) ([]byte, error) {
	result, err := s.invokeWithRetry(ctx, methodGetTransaction, map[string]any{
		"tx_hash": txHash,
	})
	if err != nil {
		return nil, err
	}
	return []byte(result), nil
}

func (s *GRPCNodeSource) FetchRawAddressHistory(
	ctx context.Context,
	address, cursor string,
	limit int,
) (*HistoryPage, error) {
	result, err := s.invokeWithRetry(ctx, methodGetAddressHistory, map[string]any{
		"address": address,
		"cursor":  cursor,
		"limit":   limit,
	})
	if err != nil {
		return nil, err
	}
	return parseHistoryPage(result)
}

func (s *GRPCNodeSource) FetchBalance(
	ctx context.Context,
	address, asset string,
) (decimal.Decimal, error) {
	result, err := s.invokeWithRetry(ctx, methodGetBalance, map[string]any{
		"address": address,
		"asset":   asset,
	})
	if err != nil {
		return decimal.Decimal{}, err
	}
	return parseBalance(result)
}

func (s *GRPCNodeSource) FetchBlockTransactions(
	ctx context.Context,
	height uint64,
) ([][]byte, error) {
	result, err := s.invokeWithRetry(ctx, methodGetBlockTransactions, map[string]any{
		"height": int64(height),
	})
	if err != nil {
		return nil, err
	}
	return parseBlockTransactions(result)
}

func (s *GRPCNodeSource) Health(ctx context.Context) error {
	_, err := s.invoke(ctx, methodHealth, map[string]any{})
	return err
}

func (s *GRPCNodeSource) invokeWithRetry(
	ctx context.Context,
	method string,
	params map[string]any,
) (json.RawMessage, error) {
	var result json.RawMessage
	err := s.retry.Do(ctx, method, func() error {
		var err error
		result, err = s.invoke(ctx, method, params)
		return err
	})
	return result, err
}

func (s *GRPCNodeSource) invoke(
	ctx context.Context,
	method string,
	params map[string]any,
) (json.RawMessage, error) {
	start := time.Now()
	metrics.SourceCallsTotal.WithLabelValues(string(s.chainID), s.name, method).Inc()

	req, err := structpb.NewStruct(map[string]any{
		"method": method,
		"chain":  string(s.chainID),
	})
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	paramsStruct, err := structpb.NewStruct(params)
	if err != nil {
		return nil, fmt.Errorf("build params: %w", err)
	}
	req.Fields["params"] = structpb.NewStructValue(paramsStruct)

	resp := &structpb.Struct{}
	if err := s.conn.Invoke(ctx, grpcInvokeMethod, req, resp); err != nil {
		metrics.SourceLatency.WithLabelValues(string(s.chainID), s.name, method).
			Observe(time.Since(start).Seconds())
		return nil, s.mapStatus(err)
	}
	metrics.SourceLatency.WithLabelValues(string(s.chainID), s.name, method).
		Observe(time.Since(start).Seconds())

	if f, ok := resp.Fields["error"]; ok {
		if msg := f.GetStringValue(); msg != "" {
			if strings.Contains(strings.ToLower(msg), "not found") {
				return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
			}
			metrics.SourceErrorsTotal.WithLabelValues(string(s.chainID), s.name, "rpc").Inc()
			return nil, fmt.Errorf("gateway error: %s", msg)
		}
	}

	result := resp.Fields["result"].GetStringValue()
	if result == "" || result == "null" {
		return nil, fmt.Errorf("%w: empty result for %s", domain.ErrNotFound, method)
	}
	return json.RawMessage(result), nil
}

func (s *GRPCNodeSource) mapStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		metrics.SourceErrorsTotal.WithLabelValues(string(s.chainID), s.name, "network").Inc()
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, st.Message())
	case codes.DeadlineExceeded:
		metrics.SourceErrorsTotal.WithLabelValues(string(s.chainID), s.name, "timeout").Inc()
		return fmt.Errorf("%w: %s", domain.ErrTimeout, st.Message())
	case codes.ResourceExhausted:
		metrics.SourceErrorsTotal.WithLabelValues(string(s.chainID), s.name, "throttled").Inc()
		return fmt.Errorf("rate limit: %s", st.Message())
	default:
		metrics.SourceErrorsTotal.WithLabelValues(string(s.chainID), s.name, "grpc").Inc()
		return fmt.Errorf("grpc %s: %s", st.Code(), st.Message())
	}
}
