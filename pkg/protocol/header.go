// Package protocol implements the broker wire format.
//
// A request is a fixed-size header optionally followed by a payload:
//
//	offset  size  field
//	0       4     command             uint32
//	4       4096  path                NUL-terminated, NUL-padded
//	4100    128   token               NUL-terminated, NUL-padded
//	4228    4096  src_path            NUL-terminated, NUL-padded
//	8324    8     retention_duration  int64, seconds
//	8332    8     payload_length      uint64, bytes following the header
//
// Integers are little-endian and there is no padding between fields, so the
// header is exactly HeaderSize bytes. Only the write command carries a
// payload. The response is a single UTF-8 text line (see response.go).
package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/marmos91/immutabled/pkg/broker"
)

// byteOrder is the integer encoding of the header.
var byteOrder = binary.LittleEndian

// wireHeader mirrors the on-the-wire layout field for field.
type wireHeader struct {
	Command       uint32
	Path          [broker.MaxPathLen]byte
	Token         [broker.MaxTokenLen]byte
	SrcPath       [broker.MaxPathLen]byte
	Retention     int64
	PayloadLength uint64
}

// HeaderSize is the exact number of bytes of an encoded request header.
var HeaderSize = binary.Size(wireHeader{})

// ErrNoHeader is returned (wrapped in a *broker.Error) when the peer sent
// nothing or fewer than HeaderSize bytes. No response can be addressed to
// such a peer.
var ErrNoHeader = errors.New("incomplete request header")

// ReadHeader reads and decodes exactly one request header from r.
//
// Errors:
//   - a short read returns a nil request and a KindProtocol error wrapping
//     ErrNoHeader (io.EOF when the peer sent nothing at all is passed through
//     unchanged so callers can treat it as a quiet disconnect)
//   - an unterminated string field returns the partially decoded request
//     together with a KindProtocol error; the header is usable for a failure
//     response
func ReadHeader(r io.Reader) (*broker.Request, error) {
	buf := make([]byte, HeaderSize)
	n, err := io.ReadFull(r, buf)
	if err != nil {
		if errors.Is(err, io.EOF) && n == 0 {
			return nil, io.EOF
		}
		return nil, broker.Wrap(broker.KindProtocol, "protocol", "",
			fmt.Sprintf("header: got %d of %d bytes", n, HeaderSize), ErrNoHeader)
	}

	return DecodeHeader(buf)
}

// DecodeHeader decodes a HeaderSize-byte buffer.
func DecodeHeader(buf []byte) (*broker.Request, error) {
	if len(buf) != HeaderSize {
		return nil, broker.Wrap(broker.KindProtocol, "protocol", "",
			fmt.Sprintf("header: size %d, want %d", len(buf), HeaderSize), ErrNoHeader)
	}

	var h wireHeader
	if err := binary.Read(bytes.NewReader(buf), byteOrder, &h); err != nil {
		return nil, broker.Wrap(broker.KindProtocol, "protocol", "", "header: decode failed", err)
	}

	req := &broker.Request{
		Command:       broker.Command(h.Command),
		Retention:     h.Retention,
		PayloadLength: h.PayloadLength,
	}

	var ok bool
	if req.Path, ok = cString(h.Path[:]); !ok {
		return req, broker.Errorf(broker.KindProtocol, "protocol", "", "path is not NUL-terminated")
	}
	if req.Token, ok = cString(h.Token[:]); !ok {
		return req, broker.Errorf(broker.KindProtocol, "protocol", req.Path, "token is not NUL-terminated")
	}
	if req.SrcPath, ok = cString(h.SrcPath[:]); !ok {
		return req, broker.Errorf(broker.KindProtocol, "protocol", req.Path, "src_path is not NUL-terminated")
	}

	return req, nil
}

// EncodeHeader encodes req into a HeaderSize-byte buffer.
//
// Strings that do not fit their buffer together with a NUL terminator are
// rejected rather than truncated.
func EncodeHeader(req *broker.Request) ([]byte, error) {
	h := wireHeader{
		Command:       uint32(req.Command),
		Retention:     req.Retention,
		PayloadLength: req.PayloadLength,
	}

	if err := putCString(h.Path[:], req.Path, "path"); err != nil {
		return nil, err
	}
	if err := putCString(h.Token[:], req.Token, "token"); err != nil {
		return nil, err
	}
	if err := putCString(h.SrcPath[:], req.SrcPath, "src_path"); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(HeaderSize)
	if err := binary.Write(&buf, byteOrder, &h); err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	return buf.Bytes(), nil
}

// cString returns the bytes before the first NUL. ok is false when the
// buffer has no terminator.
func cString(b []byte) (string, bool) {
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return "", false
	}
	return string(b[:i]), true
}

func putCString(dst []byte, s, field string) error {
	if len(s) >= len(dst) {
		return fmt.Errorf("%s too long: %d bytes, max %d", field, len(s), len(dst)-1)
	}
	if bytes.IndexByte([]byte(s), 0) >= 0 {
		return fmt.Errorf("%s contains a NUL byte", field)
	}
	copy(dst, s)
	return nil
}
