package interpreter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

var ErrListenerGaveUp = errors.New("interpreter api unreachable")

// Tunables for the reconnect loop, variables so tests can shorten them.
var (
	maxRetries     = 10
	baseRetryDelay = 2 * time.Second
	maxRetryDelay  = 60 * time.Second
	readTimeout    = 10 * time.Second
	pingInterval   = 30 * time.Second
)

// StartListener subscribes to the /ws feed of an interpreter API and calls
// funcToCall for each reading. It reconnects with exponential backoff and
// returns nil once ctx is done.
func StartListener(
	ctx context.Context,
	host string,
	logger *slog.Logger,
	funcToCall func(reading *RawMeterReading),
) error {
	u := url.URL{Scheme: "ws", Host: host, Path: "/ws"}
	logger = logger.With("url", u.String())

	retryCount := 0
	var lastErr error

	for {
		// Calculate retry delay with exponential backoff
		retryDelay := time.Duration(1<<retryCount) * baseRetryDelay
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}

		if retryCount > 0 {
			logger.Info("retrying connection", "delay", retryDelay, "attempt", retryCount+1, "max", maxRetries)
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return nil
			}
		}

		logger.Debug("connecting to interpreter api")
		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		c, _, err := dialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("connection failed", "error", err)
			lastErr = err
			retryCount++
			if retryCount >= maxRetries {
				return fmt.Errorf("%w: %d attempts: %w", ErrListenerGaveUp, maxRetries, lastErr)
			}
			continue
		}

		logger.Info("connected, accepting meter readings")
		retryCount = 0

		connectionBroken := handleConnection(ctx, c, logger, funcToCall)
		c.Close()

		if !connectionBroken {
			return nil
		}
		logger.Warn("connection lost, will retry")
	}
}

func handleConnection(
	ctx context.Context,
	c *websocket.Conn,
	logger *slog.Logger,
	funcToCall func(reading *RawMeterReading),
) bool {
	done := make(chan struct{})

	// Readings arrive every second; a silent connection is dead.
	c.SetReadDeadline(time.Now().Add(readTimeout))

	go func() {
		defer close(done)
		for {
			messageType, message, err := c.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logger.Warn("websocket error", "error", err)
				} else {
					logger.Debug("connection closed", "error", err)
				}
				return
			}

			c.SetReadDeadline(time.Now().Add(readTimeout))

			if messageType != websocket.TextMessage {
				logger.Debug("ignoring unexpected message type", "type", messageType)
				continue
			}
			if meterReading := MeterReadingFromJsonBytes(message); meterReading != nil {
				funcToCall(meterReading)
			} else {
				logger.Warn("failed to parse meter reading", "message", string(message))
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return true
		case <-ticker.C:
			if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				logger.Warn("failed to send ping", "error", err)
			}
		case <-ctx.Done():
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				logger.Debug("error sending close message", "error", err)
			}

			// Wait for close confirmation or timeout
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return false
		}
	}
}
