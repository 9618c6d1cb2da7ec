package payout

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shielded-relay/relayer/internal/circuitbreaker"
	relayerrors "github.com/shielded-relay/relayer/internal/errors"
	"github.com/shielded-relay/relayer/internal/httputil"
	"github.com/shielded-relay/relayer/internal/logger"
	"github.com/shielded-relay/relayer/internal/metrics"
	"github.com/shielded-relay/relayer/pkg/x402wire"
)

// ForwardAdapter replays the agent's original request to the merchant,
// stripping payment headers and injecting the relayer's own request-id and
// idempotency-key headers so the merchant can dedupe retries.
type ForwardAdapter struct {
	client   *http.Client
	breakers *circuitbreaker.Manager
	metrics  *metrics.Metrics
}

// NewForwardAdapter builds a forwarding payout adapter with the given
// per-call timeout.
func NewForwardAdapter(timeout time.Duration, breakers *circuitbreaker.Manager) *ForwardAdapter {
	return &ForwardAdapter{client: httputil.NewClient(timeout), breakers: breakers}
}

// WithMetrics attaches a metrics collector.
func (a *ForwardAdapter) WithMetrics(m *metrics.Metrics) *ForwardAdapter {
	a.metrics = m
	return a
}

func (a *ForwardAdapter) PayMerchant(ctx context.Context, settlementID string, req MerchantRequest, _ x402wire.PaymentRequirement, _ string) (Result, error) {
	start := time.Now()
	result, err := a.forward(ctx, settlementID, req)
	outcome := "success"
	if err != nil {
		outcome = "error"
	} else if result.Status >= 400 {
		outcome = "rejected"
	}
	if a.metrics != nil {
		a.metrics.ObservePayout("forward", outcome, time.Since(start))
	}
	return result, err
}

func (a *ForwardAdapter) forward(ctx context.Context, settlementID string, req MerchantRequest) (Result, error) {
	body, err := base64.StdEncoding.DecodeString(req.BodyBase64)
	if err != nil {
		return Result{}, relayerrors.Wrap(relayerrors.ErrCodeMalformedEnvelope, "decode merchant request body", err)
	}

	outcome, err := a.breakers.Execute(circuitbreaker.ServiceMerchantPayout, func() (interface{}, error) {
		httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("payout: build merchant request: %w", err)
		}
		httpReq.Header = stripped(req.Headers)
		httpReq.Header.Set(x402wire.HeaderRequestID, settlementID)
		httpReq.Header.Set(x402wire.HeaderIdempotencyKey, settlementID)

		resp, err := a.client.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("payout: merchant forward: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		if err != nil {
			return nil, fmt.Errorf("payout: read merchant response: %w", err)
		}

		headers := make(map[string]string, len(resp.Header))
		for k := range resp.Header {
			headers[k] = resp.Header.Get(k)
		}
		return Result{
			Status:          resp.StatusCode,
			Headers:         headers,
			BodyBase64:      base64.StdEncoding.EncodeToString(respBody),
			PayoutReference: settlementID,
		}, nil
	})
	if err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("settlement_id", settlementID).Msg("payout.forward_failed")
		return Result{}, relayerrors.Wrap(relayerrors.ErrCodeMerchantNetwork, "merchant forward failed", err)
	}
	return outcome.(Result), nil
}
