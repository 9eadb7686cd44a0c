// Package client talks to a running broker over its unix socket.
package client

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"time"

	"github.com/marmos91/immutabled/pkg/broker"
	"github.com/marmos91/immutabled/pkg/protocol"
)

// DefaultTimeout bounds a whole request when the context has no deadline.
const DefaultTimeout = 5 * time.Minute

// Client sends one request per connection.
type Client struct {
	socketPath string
	token      string
	timeout    time.Duration
	statSource func(string) (fs.FileInfo, error)
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides DefaultTimeout. 0 disables the default deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithSourceCheck replaces the local existence check done before sync.
// Passing nil disables the check.
func WithSourceCheck(stat func(string) (fs.FileInfo, error)) Option {
	return func(c *Client) { c.statSource = stat }
}

// New creates a Client for the broker at socketPath.
func New(socketPath, token string, opts ...Option) *Client {
	c := &Client{
		socketPath: socketPath,
		token:      token,
		timeout:    DefaultTimeout,
		statSource: os.Stat,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends req and returns the broker's response. The token is filled in
// from the client. A FAIL response is returned as a *broker.Error alongside
// the response; transport problems return a nil response.
func (c *Client) Do(ctx context.Context, req *broker.Request) (*broker.Response, error) {
	r := *req
	r.Token = c.token
	if r.NeedsPayload() {
		r.PayloadLength = uint64(len(r.Payload))
	}

	header, err := protocol.EncodeHeader(&r)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", c.socketPath, err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	// The broker may answer (and close) before reading everything, for
	// example after an authentication failure, so a failed write still
	// falls through to reading the response.
	writeErr := writeAll(conn, header, r.Payload)
	if uc, ok := conn.(*net.UnixConn); ok {
		_ = uc.CloseWrite()
	}

	resp, err := protocol.ReadResponse(conn)
	if err != nil {
		if writeErr != nil {
			return nil, fmt.Errorf("send request: %w", writeErr)
		}
		return nil, err
	}

	if !resp.OK() {
		return resp, &broker.Error{Kind: resp.Kind, Op: resp.Op, Path: resp.Path, Message: resp.Message}
	}
	return resp, nil
}

func writeAll(conn net.Conn, header, payload []byte) error {
	if _, err := conn.Write(header); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := conn.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// Write stores data at path, replacing any existing content.
func (c *Client) Write(ctx context.Context, path string, data []byte) (*broker.Response, error) {
	if data == nil {
		data = []byte{}
	}
	return c.Do(ctx, &broker.Request{Command: broker.CommandWrite, Path: path, Payload: data})
}

// Delete removes path (recursively for directories) unless retention
// forbids it.
func (c *Client) Delete(ctx context.Context, path string) (*broker.Response, error) {
	return c.Do(ctx, &broker.Request{Command: broker.CommandDelete, Path: path})
}

// Sync copies src onto dst. src must exist locally.
func (c *Client) Sync(ctx context.Context, src, dst string) (*broker.Response, error) {
	if c.statSource != nil {
		if _, err := c.statSource(src); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("source %s does not exist", src)
			}
			return nil, fmt.Errorf("source %s: %w", src, err)
		}
	}
	return c.Do(ctx, &broker.Request{Command: broker.CommandSync, Path: dst, SrcPath: src})
}

// SetRetention protects path for the given number of seconds from now.
func (c *Client) SetRetention(ctx context.Context, path string, seconds int64) (*broker.Response, error) {
	return c.Do(ctx, &broker.Request{Command: broker.CommandSetRetention, Path: path, Retention: seconds})
}

// GetRetention returns the seconds of retention left on path.
func (c *Client) GetRetention(ctx context.Context, path string) (int64, error) {
	resp, err := c.Do(ctx, &broker.Request{Command: broker.CommandGetRetention, Path: path})
	if err != nil {
		return 0, err
	}
	if resp.Remaining == nil {
		return 0, fmt.Errorf("response for %s carries no remaining time", path)
	}
	return *resp.Remaining, nil
}
