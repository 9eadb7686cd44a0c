package socket

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/immutabled/internal/logger"
	"github.com/marmos91/immutabled/pkg/auth"
	"github.com/marmos91/immutabled/pkg/broker"
	"github.com/marmos91/immutabled/pkg/protocol"
)

// Connection serves exactly one request:
//
//	accepted → header read → authenticated → (payload read) → executed → responded → closed
//
// A header that cannot be read in full is dropped without a response. Every
// later failure produces exactly one failure response.
type Connection struct {
	server *SocketAdapter
	conn   net.Conn
	id     string
	peer   peerInfo
}

func newConnection(server *SocketAdapter, conn net.Conn) *Connection {
	return &Connection{
		server: server,
		conn:   conn,
		id:     uuid.NewString(),
		peer:   peerCredentials(conn),
	}
}

// Serve handles the connection's single request and closes it. Panics are
// recovered so that one misbehaving request cannot take the broker down.
func (c *Connection) Serve(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in connection %s from %s: %v", c.id, c.peer, r)
		}
		_ = c.conn.Close()
	}()

	start := time.Now()
	op, kind := c.handle(ctx)
	if op != "" {
		c.server.metrics.RecordRequest(op, time.Since(start), string(kind))
	}
}

// handle runs the state machine and returns the operation name and failure
// kind for metrics. An empty op means nothing was answered.
func (c *Connection) handle(ctx context.Context) (string, broker.Kind) {
	cfg := c.server.config

	if cfg.ReadTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout)); err != nil {
			logger.Warn("Connection %s: failed to set read deadline: %v", c.id, err)
		}
	}

	req, err := protocol.ReadHeader(c.conn)
	if req == nil {
		switch {
		case errors.Is(err, io.EOF):
			logger.Debug("Connection %s from %s closed without a request", c.id, c.peer)
		default:
			logger.Warn("Connection %s from %s: %v", c.id, c.peer, err)
		}
		return "", ""
	}
	if err != nil {
		logger.Warn("Connection %s from %s: malformed header: %v", c.id, c.peer, err)
		return c.respond(broker.Failure("protocol", "", err))
	}

	if err := c.server.auth.Authenticate(req); err != nil {
		reason := auth.Reason(err)
		c.server.metrics.RecordAuthFailure(reason)
		logger.Warn("Connection %s from %s: rejected %s request: %s", c.id, c.peer, req.Command, reason)
		return c.respond(broker.Failure("auth", "", err))
	}

	op := req.Command.String()
	c.server.metrics.RecordRequestStart(op)
	defer c.server.metrics.RecordRequestEnd(op)

	if req.NeedsPayload() {
		payload, err := protocol.ReadPayload(c.conn, req.PayloadLength, protocol.PayloadOptions{
			MaxBytes:      cfg.MaxPayloadBytes,
			TrailingGrace: cfg.PayloadTrailingGrace,
		})
		if err != nil {
			logger.Warn("Connection %s from %s: write %s: %v", c.id, c.peer, req.Path, err)
			return c.respond(broker.Failure(op, req.Path, err))
		}
		req.Payload = payload
		c.server.metrics.RecordPayloadBytes(req.PayloadLength)
	} else if req.PayloadLength > 0 {
		logger.Debug("Connection %s: ignoring payload_length %d on %s", c.id, req.PayloadLength, op)
	}

	logger.Debug("Connection %s from %s: %s %s", c.id, c.peer, op, req.Path)
	return c.respond(c.server.executor.Execute(ctx, req))
}

func (c *Connection) respond(resp *broker.Response) (string, broker.Kind) {
	if wt := c.server.config.WriteTimeout; wt > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(wt)); err != nil {
			logger.Warn("Connection %s: failed to set write deadline: %v", c.id, err)
		}
	}

	if err := protocol.WriteResponse(c.conn, resp); err != nil {
		logger.Debug("Connection %s: failed to write response: %v", c.id, err)
	}
	return resp.Op, resp.Kind
}
