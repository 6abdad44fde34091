// Package assistant probes the downstream assistant service that consumes
// finalized transcripts. Only liveness is checked here; the assistant is
// reached over the standard gRPC health protocol.
package assistant

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/lexiqai/dictation-gateway/internal/config"
	"github.com/lexiqai/dictation-gateway/internal/observability"
	"github.com/lexiqai/dictation-gateway/internal/resilience"
)

const breakerName = "assistant"

// Client manages the gRPC connection to the assistant service
type Client struct {
	target  string
	service string
	timeout time.Duration

	mu     sync.RWMutex
	conn   *grpc.ClientConn
	health healthpb.HealthClient

	breaker *resilience.CircuitBreaker
	retry   *resilience.RetryConfig
	logger  zerolog.Logger
}

// NewClient creates a client for cfg.AssistantURL. The connection is
// established lazily by gRPC on first use.
func NewClient(cfg *config.Config, logger zerolog.Logger) (*Client, error) {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		// Keepalive settings for long-lived connections
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: true,
		}),
	}

	conn, err := grpc.NewClient(cfg.AssistantURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create assistant client for %s: %w", cfg.AssistantURL, err)
	}

	breaker := resilience.NewCircuitBreaker(
		breakerName,
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)
	breaker.OnStateChange(func(name string, state resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(state))
	})

	return &Client{
		target:  cfg.AssistantURL,
		service: cfg.AssistantService,
		timeout: time.Duration(cfg.AssistantTimeout) * time.Second,
		conn:    conn,
		health:  healthpb.NewHealthClient(conn),
		breaker: breaker,
		retry: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		logger: logger.With().Str("component", "assistant").Str("target", cfg.AssistantURL).Logger(),
	}, nil
}

// Healthy checks whether the assistant reports SERVING
func (c *Client) Healthy(ctx context.Context) (bool, error) {
	c.mu.RLock()
	client := c.health
	c.mu.RUnlock()

	if client == nil {
		return false, fmt.Errorf("assistant client is closed")
	}

	var resp *healthpb.HealthCheckResponse
	err := c.breaker.Call(func() error {
		return resilience.RetryContext(ctx, func() error {
			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			var callErr error
			resp, callErr = client.Check(callCtx, &healthpb.HealthCheckRequest{Service: c.service})
			return callErr
		}, c.retry, isRetryableError)
	})
	if err != nil {
		observability.IncrementCircuitBreakerFailures(breakerName)
		c.logger.Warn().Err(err).Msg("Assistant health check failed")
		return false, fmt.Errorf("health check failed: %w", err)
	}

	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return false, fmt.Errorf("assistant status %s", resp.GetStatus())
	}
	return true, nil
}

// Close closes the gRPC connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.health = nil
	return err
}

// isRetryableError reports whether a gRPC status is worth another attempt
func isRetryableError(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}
