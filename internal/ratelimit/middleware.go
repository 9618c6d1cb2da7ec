package ratelimit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/shielded-relay/relayer/internal/apikey"
	"github.com/shielded-relay/relayer/internal/metrics"
)

// Config holds rate limiting configuration.
type Config struct {
	// Global rate limiting (across all agents)
	GlobalEnabled bool
	GlobalLimit   int
	GlobalWindow  time.Duration
	GlobalBurst   int

	// Per-agent rate limiting (identified by an explicit X-Agent-Address or
	// X-Signer header; requests with neither are limited by IP)
	PerAgentEnabled bool
	PerAgentLimit   int
	PerAgentWindow  time.Duration
	PerAgentBurst   int

	// Per-IP rate limiting (fallback when an agent address isn't known yet)
	PerIPEnabled bool
	PerIPLimit   int
	PerIPWindow  time.Duration
	PerIPBurst   int

	Metrics *metrics.Metrics
}

type rateLimitResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

// DefaultConfig returns sensible default limits: generous enough for normal
// agent traffic, tight enough to stop obvious abuse.
func DefaultConfig() Config {
	return Config{
		GlobalEnabled: true,
		GlobalLimit:   1000,
		GlobalWindow:  time.Minute,
		GlobalBurst:   100,

		PerAgentEnabled: true,
		PerAgentLimit:   60,
		PerAgentWindow:  time.Minute,
		PerAgentBurst:   10,

		PerIPEnabled: true,
		PerIPLimit:   120,
		PerIPWindow:  time.Minute,
		PerIPBurst:   20,
	}
}

// createRateLimitHandler builds a standardized 429 handler shared by the
// global, per-agent, and per-IP limiters.
func createRateLimitHandler(limitType string, windowSeconds int, extractIdentifier func(*http.Request) string, metricsCollector *metrics.Metrics) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		identifier := "all"
		if extractIdentifier != nil {
			if id := extractIdentifier(r); id != "" {
				identifier = id
			}
		}

		if metricsCollector != nil {
			metricsCollector.ObserveRateLimit(limitType, identifier)
		}

		var message string
		switch limitType {
		case "global":
			message = "global rate limit exceeded, try again later"
		case "per_agent":
			message = "per-agent rate limit exceeded, try again later"
		case "per_ip":
			message = "per-ip rate limit exceeded, try again later"
		default:
			message = "rate limit exceeded, try again later"
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", fmt.Sprintf("%d", windowSeconds))
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(rateLimitResponse{
			Error:             "rate_limit_exceeded",
			Message:           message,
			RetryAfterSeconds: windowSeconds,
		})
	}
}

// GlobalLimiter rate-limits every request regardless of caller identity.
func GlobalLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.GlobalEnabled {
		return func(next http.Handler) http.Handler { return next }
	}

	limiter := httprate.Limit(
		cfg.GlobalLimit,
		cfg.GlobalWindow,
		httprate.WithLimitHandler(createRateLimitHandler("global", int(cfg.GlobalWindow.Seconds()), nil, cfg.Metrics)),
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apikey.ShouldBypassGlobalLimit(r) {
				next.ServeHTTP(w, r)
				return
			}
			limiter(next).ServeHTTP(w, r)
		})
	}
}

// AgentLimiter rate-limits by the agent address named in X-Agent-Address
// (or X-Signer, for the credit-channel close endpoints), falling back to
// IP-based limiting when neither header is present.
func AgentLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerAgentEnabled {
		return func(next http.Handler) http.Handler { return next }
	}

	limiter := httprate.Limit(
		cfg.PerAgentLimit,
		cfg.PerAgentWindow,
		httprate.WithKeyFuncs(agentKeyExtractor),
		httprate.WithLimitHandler(createRateLimitHandler("per_agent", int(cfg.PerAgentWindow.Seconds()), extractAgentFromRequest, cfg.Metrics)),
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apikey.IsExemptFromRateLimits(r) {
				next.ServeHTTP(w, r)
				return
			}
			limiter(next).ServeHTTP(w, r)
		})
	}
}

// IPLimiter rate-limits by remote IP, the fallback tier.
func IPLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerIPEnabled {
		return func(next http.Handler) http.Handler { return next }
	}

	limiter := httprate.Limit(
		cfg.PerIPLimit,
		cfg.PerIPWindow,
		httprate.WithKeyByIP(),
		httprate.WithLimitHandler(createRateLimitHandler("per_ip", int(cfg.PerIPWindow.Seconds()), func(r *http.Request) string { return r.RemoteAddr }, cfg.Metrics)),
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apikey.IsExemptFromRateLimits(r) {
				next.ServeHTTP(w, r)
				return
			}
			limiter(next).ServeHTTP(w, r)
		})
	}
}

func agentKeyExtractor(r *http.Request) (string, error) {
	if agent := extractAgentFromRequest(r); agent != "" {
		return "agent:" + agent, nil
	}
	return httprate.KeyByIP(r)
}

// extractAgentFromRequest looks for an explicit agent identity header. The
// payload's own signer isn't recoverable here without decoding and verifying
// the full payment envelope, which is too expensive to do per rate-limit
// check; agents that want per-agent limiting instead of the IP fallback
// should send X-Agent-Address.
func extractAgentFromRequest(r *http.Request) string {
	if agent := r.Header.Get("X-Agent-Address"); agent != "" {
		return agent
	}
	if signer := r.Header.Get("X-Signer"); signer != "" {
		return signer
	}
	return ""
}
