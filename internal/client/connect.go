package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/SoftwareDefinedBuildings/bw2c/internal/observability"
	"github.com/SoftwareDefinedBuildings/bw2c/internal/protocol/frame"
)

// Connect dials the agent at cfg.Address, validates its greeting, and starts
// the dispatch loop. Dial failures are retried with backoff up to
// cfg.MaxConnectAttempts; a greeting that is not a valid helo is not.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	cfg = cfg.WithDefaults()
	logger := observability.Logger("client")
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var attempt int
	for {
		attempt++
		conn, err := dial(ctx, cfg)
		if err == nil {
			c := NewClient(conn, cfg)
			if err := c.Handshake(ctx); err != nil {
				_ = conn.Close()
				return nil, err
			}
			if err := c.Start(); err != nil {
				_ = conn.Close()
				return nil, err
			}
			return c, nil
		}

		logger.Warn().Err(err).Str("agent", cfg.Address).Int("attempt", attempt).Msg("dial failed")
		if attempt >= cfg.MaxConnectAttempts {
			return nil, fmt.Errorf("client: dial %s: %w", cfg.Address, err)
		}
		if err := sleepBackoff(ctx, cfg.Backoff, attempt, rng); err != nil {
			return nil, err
		}
	}
}

func dial(ctx context.Context, cfg Config) (net.Conn, error) {
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	return dialer.DialContext(ctx, "tcp", cfg.Address)
}

func sleepBackoff(ctx context.Context, cfg BackoffConfig, attempt int, rng *rand.Rand) error {
	timer := time.NewTimer(NextBackoffDelay(cfg, attempt, rng))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Handshake reads the agent greeting. It must precede Start.
func (c *Client) Handshake(ctx context.Context) error {
	if c.started.Load() {
		return ErrAlreadyStarted
	}

	deadline := time.Now().Add(c.cfg.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetReadDeadline(deadline)

	// The cancel hook may already be running when stop is called; the
	// deadline is cleared only after it has finished.
	interrupted := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Unix(1, 0))
		close(interrupted)
	})
	defer func() {
		if !stop() {
			<-interrupted
		}
		_ = c.conn.SetReadDeadline(time.Time{})
	}()

	f, err := frame.ReadFrame(c.reader, c.alloc)
	defer c.alloc.Reset()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("client: read greeting: %w", errors.Join(ctxErr, err))
		}
		return fmt.Errorf("client: read greeting: %w", err)
	}
	if f.Cmd != frame.CmdHello {
		return frame.UnexpectedFrameError{Got: f.Cmd, Want: frame.CmdHello}
	}
	version, ok := f.HeaderString(frame.HeaderVersion)
	if !ok {
		return frame.MissingHeaderError{Cmd: f.Cmd, Key: frame.HeaderVersion}
	}
	c.agentVersion.Store(version)
	c.logger.Info().Str("version", version).Msg("connected to agent")
	return nil
}
