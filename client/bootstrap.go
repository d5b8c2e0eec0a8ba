package client

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/richinsley/comfyvideo/errdefs"
)

// BootstrapConfig bounds the retries made before a job can talk to the server.
// Reachability is probed over plain HTTP first, then the websocket is opened.
type BootstrapConfig struct {
	ProbeAttempts   int
	ProbeInterval   time.Duration
	ProbeTimeout    time.Duration
	ChannelAttempts int
	ChannelInterval time.Duration
}

// DefaultBootstrapConfig probes 180 times one second apart, then tries the
// websocket 36 times five seconds apart.
func DefaultBootstrapConfig() BootstrapConfig {
	return BootstrapConfig{
		ProbeAttempts:   180,
		ProbeInterval:   time.Second,
		ProbeTimeout:    5 * time.Second,
		ChannelAttempts: 36,
		ChannelInterval: 5 * time.Second,
	}
}

func boundedBackOff(ctx context.Context, attempts int, interval time.Duration) backoff.BackOffContext {
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(attempts-1)),
		ctx,
	)
}

// WaitForServer polls the server root until it answers
func (c *ComfyClient) WaitForServer(ctx context.Context, cfg BootstrapConfig) error {
	attempt := 0
	probe := func() error {
		attempt++
		pctx, cancel := context.WithTimeout(ctx, cfg.ProbeTimeout)
		defer cancel()
		return c.Ping(pctx)
	}
	notify := func(err error, next time.Duration) {
		slog.Warn("ComfyUI not reachable yet", "address", c.serverBaseAddress,
			"attempt", attempt, "max_attempts", cfg.ProbeAttempts, "retry_in", next, "error", err)
	}

	err := backoff.RetryNotify(probe, boundedBackOff(ctx, cfg.ProbeAttempts, cfg.ProbeInterval), notify)
	if err != nil {
		return errdefs.Wrap(errdefs.ErrConnectivity, err,
			fmt.Sprintf("cannot reach ComfyUI server at %s after %s", c.serverBaseAddress, waitBudget(cfg.ProbeAttempts, cfg.ProbeInterval)))
	}
	slog.Info("ComfyUI server reachable", "address", c.serverBaseAddress, "attempts", attempt)
	return nil
}

// OpenChannel connects the websocket notification channel for this client
func (c *ComfyClient) OpenChannel(ctx context.Context, cfg BootstrapConfig) (*WebSocketConnection, error) {
	ws := NewWebSocketConnection(c.WebSocketURL(), cfg.ChannelInterval)
	attempt := 0
	open := func() error {
		attempt++
		return ws.Connect(ctx)
	}
	notify := func(err error, next time.Duration) {
		slog.Warn("websocket connection failed", "url", ws.WebSocketURL,
			"attempt", attempt, "max_attempts", cfg.ChannelAttempts, "retry_in", next, "error", err)
	}

	err := backoff.RetryNotify(open, boundedBackOff(ctx, cfg.ChannelAttempts, cfg.ChannelInterval), notify)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrConnectivity, err,
			fmt.Sprintf("websocket connection timed out after %s", waitBudget(cfg.ChannelAttempts, cfg.ChannelInterval)))
	}
	slog.Info("websocket connected", "client_id", c.clientid)
	return ws, nil
}

// Connect waits for the server and then opens the notification channel
func (c *ComfyClient) Connect(ctx context.Context, cfg BootstrapConfig) (*WebSocketConnection, error) {
	if err := c.WaitForServer(ctx, cfg); err != nil {
		return nil, err
	}
	return c.OpenChannel(ctx, cfg)
}

// waitBudget describes a bounded retry: attempts tries with attempts-1 waits between them
func waitBudget(attempts int, interval time.Duration) string {
	if attempts <= 1 {
		return "1 attempt"
	}
	return fmt.Sprintf("%d attempts over %s", attempts, time.Duration(attempts-1)*interval)
}
