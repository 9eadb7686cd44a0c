package protocol

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/marmos91/immutabled/pkg/broker"
)

// PayloadOptions bounds payload reading.
type PayloadOptions struct {
	// MaxBytes rejects declared lengths above this value before anything is
	// allocated. 0 means no limit.
	MaxBytes uint64

	// TrailingGrace is how long to wait for bytes beyond the declared length
	// after the payload has been read. Any byte that shows up within this
	// window means the peer sent more than it declared. 0 skips the check
	// on connections that support read deadlines.
	TrailingGrace time.Duration
}

// deadlineReader is satisfied by net.Conn.
type deadlineReader interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// ReadPayload reads exactly n bytes of write payload from r.
//
// Fewer bytes than declared (the peer closed early), a declared length above
// opts.MaxBytes, or extra bytes after the declared length all yield a
// KindProtocol error. The caller must not touch the target file unless this
// returns nil.
func ReadPayload(r io.Reader, n uint64, opts PayloadOptions) ([]byte, error) {
	if opts.MaxBytes > 0 && n > opts.MaxBytes {
		return nil, broker.Errorf(broker.KindProtocol, "write", "",
			"payload length %d exceeds limit %d", n, opts.MaxBytes)
	}

	payload := make([]byte, n)
	got, err := io.ReadFull(r, payload)
	if err != nil {
		return nil, broker.Wrap(broker.KindProtocol, "write", "",
			fmt.Sprintf("payload: got %d of %d declared bytes", got, n), err)
	}

	extra, err := hasTrailingBytes(r, opts.TrailingGrace)
	if err != nil {
		return nil, broker.Wrap(broker.KindProtocol, "write", "", "payload: trailing read failed", err)
	}
	if extra {
		return nil, broker.Errorf(broker.KindProtocol, "write", "",
			"payload: more than %d declared bytes received", n)
	}

	return payload, nil
}

// hasTrailingBytes probes for one more byte after the payload.
//
// On a connection with read deadlines the probe waits at most grace. Readers
// without deadlines are assumed to be finite (in-memory buffers) and are
// probed directly.
func hasTrailingBytes(r io.Reader, grace time.Duration) (bool, error) {
	var probe [1]byte

	dr, ok := r.(deadlineReader)
	if !ok {
		n, err := r.Read(probe[:])
		if n > 0 {
			return true, nil
		}
		if err == nil || errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, err
	}

	if grace <= 0 {
		return false, nil
	}

	if err := dr.SetReadDeadline(time.Now().Add(grace)); err != nil {
		return false, err
	}
	defer func() { _ = dr.SetReadDeadline(time.Time{}) }()

	n, err := dr.Read(probe[:])
	if n > 0 {
		return true, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return false, nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false, nil
	}
	// A reset or closed peer after a complete payload is not an overrun.
	return false, nil
}
