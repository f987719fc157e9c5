// Package connection implements one Publisher Connection: the per-DID
// WebSocket lifecycle, cursor-carrying reconnect URL, frame decoding,
// validation hand-off, and cursor persistence described in spec.md §4.G.
//
// The receive path is sequential within a single goroutine — a frame is
// fully processed (cursor persisted, every label validated and sunk)
// before the next frame is read, matching §5's per-publisher ordering
// guarantee.
package connection

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/arc-self/muncher/internal/identity"
	"github.com/arc-self/muncher/internal/sink"
	"github.com/arc-self/muncher/internal/statestore"
	"github.com/arc-self/muncher/internal/takedown"
	"github.com/arc-self/muncher/internal/validator"
	"github.com/arc-self/muncher/internal/wire"
)

// Connection is a single publisher's subscription state machine.
type Connection struct {
	did        string
	resolver   *identity.Resolver
	store      *statestore.Store
	validator  *validator.Validator
	sink       sink.Sink
	dispatcher *takedown.Dispatcher
	logger     *zap.Logger

	state     State
	connected atomic.Bool
	attempts  int
	endpoint  string
	conn      net.Conn
}

// New builds a Connection for did, bound to its collaborators.
func New(
	did string,
	resolver *identity.Resolver,
	store *statestore.Store,
	validator *validator.Validator,
	sink sink.Sink,
	dispatcher *takedown.Dispatcher,
	logger *zap.Logger,
) *Connection {
	return &Connection{
		did:        did,
		resolver:   resolver,
		store:      store,
		validator:  validator,
		sink:       sink,
		dispatcher: dispatcher,
		logger:     logger.With(zap.String("did", did)),
		state:      StateInit,
	}
}

// Connected reports the connection's last known open/closed status, for
// Orchestrator.Status() (spec.md §4.I).
func (c *Connection) Connected() bool {
	return c.connected.Load()
}

// Run drives the state machine until ctx is cancelled or the publisher
// reaches a terminal state (Dead after exhausting reconnect attempts, or
// Closed on clean shutdown).
func (c *Connection) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return
		default:
		}

		switch c.state {
		case StateInit:
			c.runInit(ctx)
		case StateConnecting:
			c.runConnecting(ctx)
		case StateOpen:
			c.runOpen(ctx)
		case StateBackoff:
			if !c.runBackoff(ctx) {
				return
			}
		case StateDead, StateClosed:
			return
		}
	}
}

func (c *Connection) runInit(ctx context.Context) {
	doc, err := c.resolver.Resolve(ctx, c.did, false)
	if err != nil {
		c.logger.Error("failed to resolve publisher identity; publisher is dead", zap.Error(err))
		c.state = StateDead
		return
	}

	endpoint, err := identity.LabelerServiceEndpoint(doc)
	if err != nil {
		c.logger.Error("publisher has no labeler service endpoint; publisher is dead", zap.Error(err))
		c.state = StateDead
		return
	}

	c.endpoint = endpoint
	c.state = StateConnecting
}

func (c *Connection) runConnecting(ctx context.Context) {
	cursor, _, err := c.store.GetCursor(ctx, c.did)
	if err != nil {
		c.logger.Error("failed to read cursor", zap.Error(err))
		c.state = StateBackoff
		return
	}

	subURL, err := subscribeURL(c.endpoint, cursor)
	if err != nil {
		c.logger.Error("failed to build subscription URL", zap.Error(err))
		c.state = StateDead
		return
	}

	conn, _, _, err := ws.Dial(ctx, subURL)
	if err != nil {
		c.logger.Warn("websocket dial failed", zap.String("url", subURL), zap.Error(err))
		c.state = StateBackoff
		return
	}

	c.conn = conn
	c.connected.Store(true)
	c.attempts = 0
	c.state = StateOpen
	c.logger.Info("publisher connection open", zap.Int64("cursor", cursor))
}

func (c *Connection) runOpen(ctx context.Context) {
	defer func() {
		c.connected.Store(false)
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
	}()

	for {
		select {
		case <-ctx.Done():
			c.state = StateClosed
			return
		default:
		}

		data, err := wsutil.ReadServerBinary(c.conn)
		if err != nil {
			c.logger.Warn("websocket read failed", zap.Error(err))
			c.state = StateBackoff
			return
		}

		c.handleFrame(ctx, data)
	}
}

func (c *Connection) runBackoff(ctx context.Context) bool {
	c.attempts++
	if c.attempts > maxReconnectAttempts {
		c.logger.Error("publisher exceeded maximum reconnect attempts; publisher is dead",
			zap.Int("attempts", c.attempts))
		c.state = StateDead
		return true
	}

	delay := time.Duration(baseReconnectDelaySeconds*c.attempts) * time.Second
	c.logger.Info("backing off before reconnect", zap.Duration("delay", delay), zap.Int("attempt", c.attempts))

	select {
	case <-ctx.Done():
		c.shutdown()
		return false
	case <-time.After(delay):
		c.state = StateConnecting
		return true
	}
}

func (c *Connection) shutdown() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected.Store(false)
	if c.state != StateDead {
		c.state = StateClosed
	}
}

// handleFrame decodes and dispatches a single WebSocket binary message per
// spec.md §4.G "Frame handling".
func (c *Connection) handleFrame(ctx context.Context, data []byte) {
	hdr, body, err := wire.DecodeFrame(data)
	if err != nil {
		c.logger.Warn("dropping malformed frame", zap.Error(err))
		return
	}

	switch hdr.Op {
	case wire.OpError:
		errBody, err := wire.DecodeErrorFrame(body)
		if err != nil {
			c.logger.Warn("dropping malformed error frame", zap.Error(err))
			return
		}
		c.logger.Warn("publisher sent error frame",
			zap.String("error", errBody.Error),
			zap.Stringp("message", errBody.Message),
		)
	case wire.OpMessage:
		c.handleMessageFrame(ctx, hdr, body)
	default:
		c.logger.Warn("dropping frame with unrecognized op", zap.Int8("op", hdr.Op))
	}
}

func (c *Connection) handleMessageFrame(ctx context.Context, hdr wire.FrameHeader, body []byte) {
	switch hdr.T {
	case "#labels":
		frame, err := wire.DecodeLabelsFrame(body)
		if err != nil {
			c.logger.Warn("dropping malformed labels frame", zap.Error(err))
			return
		}
		c.handleLabelsFrame(ctx, frame)
	case "#info":
		info, err := wire.DecodeInfoFrame(body)
		if err != nil {
			c.logger.Warn("dropping malformed info frame", zap.Error(err))
			return
		}
		c.logger.Info("publisher info", zap.String("name", info.Name), zap.Stringp("message", info.Message))
	default:
		c.logger.Warn("dropping frame with unrecognized $type", zap.String("type", wire.MessageType(hdr)))
	}
}

// handleLabelsFrame persists the cursor before processing any label in the
// frame, so a crash mid-batch resumes at the last persisted seq (spec.md
// §4.G, §8 property 2).
func (c *Connection) handleLabelsFrame(ctx context.Context, frame wire.LabelsFrame) {
	if err := c.store.SetCursor(ctx, c.did, frame.Seq); err != nil {
		c.logger.Error("failed to persist cursor", zap.Int64("seq", frame.Seq), zap.Error(err))
	}

	for _, label := range frame.Labels {
		c.processLabel(ctx, label)
	}
}

func (c *Connection) processLabel(ctx context.Context, label wire.Label) {
	result := c.validator.Validate(ctx, label, c.did)
	if !result.Valid {
		c.logger.Info("dropping invalid label",
			zap.String("uri", label.URI),
			zap.String("val", label.Val),
			zap.String("reason", result.Reason),
		)
		return
	}

	if err := c.sink.Insert(ctx, sink.RowFromLabel(label)); err != nil {
		c.logger.Error("failed to insert label row",
			zap.String("uri", label.URI),
			zap.Error(err),
		)
	}

	if c.dispatcher != nil {
		c.dispatcher.Dispatch(ctx, label)
	}
}

func subscribeURL(endpoint string, cursor int64) (string, error) {
	base, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse service endpoint %q: %w", endpoint, err)
	}

	// Service endpoints are declared as absolute https URLs (spec.md §3);
	// gobwas/ws only dials ws/wss schemes, so rewrite before connecting.
	switch base.Scheme {
	case "https":
		base.Scheme = "wss"
	case "http":
		base.Scheme = "ws"
	}

	base.Path = base.Path + "/xrpc/com.atproto.label.subscribeLabels"
	q := base.Query()
	q.Set("cursor", strconv.FormatInt(cursor, 10))
	base.RawQuery = q.Encode()
	return base.String(), nil
}
