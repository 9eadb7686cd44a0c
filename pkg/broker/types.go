// Package broker defines the domain types shared by every layer of the
// immutable-file broker: the request a caller sends, the response it gets
// back, and the error taxonomy that maps one onto the other.
package broker

import "fmt"

// Wire limits. The path and source buffers hold the string plus its NUL
// terminator, so the longest accepted path is MaxPathLen-1 bytes.
const (
	MaxPathLen  = 4096
	MaxTokenLen = 128
)

// Command identifies one of the five broker operations.
//
// The numeric values are part of the wire format and must not change.
type Command uint32

const (
	CommandWrite        Command = 1
	CommandDelete       Command = 2
	CommandSync         Command = 3
	CommandSetRetention Command = 4
	CommandGetRetention Command = 5
)

// String returns the name used in responses, logs and metrics labels.
func (c Command) String() string {
	switch c {
	case CommandWrite:
		return "write"
	case CommandDelete:
		return "delete"
	case CommandSync:
		return "sync"
	case CommandSetRetention:
		return "set-retention"
	case CommandGetRetention:
		return "get-retention"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(c))
	}
}

// Valid reports whether c is one of the five known commands.
func (c Command) Valid() bool {
	return c >= CommandWrite && c <= CommandGetRetention
}

// ParseCommand maps a command name (as produced by String) back to a Command.
func ParseCommand(name string) (Command, bool) {
	for c := CommandWrite; c <= CommandGetRetention; c++ {
		if c.String() == name {
			return c, true
		}
	}
	return 0, false
}

// Request is a decoded broker request.
//
// Path, Token and SrcPath come from fixed-size NUL-padded buffers on the wire.
// Retention is only meaningful for CommandSetRetention and PayloadLength only
// for CommandWrite; Payload is filled in after authentication, and only for
// writes.
type Request struct {
	Command       Command
	Path          string
	Token         string
	SrcPath       string
	Retention     int64
	PayloadLength uint64
	Payload       []byte
}

// NeedsPayload reports whether the request is followed by payload bytes.
func (r *Request) NeedsPayload() bool {
	return r.Command == CommandWrite
}

// Status is the outcome marker of a response.
type Status string

const (
	StatusOK   Status = "OK"
	StatusFail Status = "FAIL"
)

// Response is the result of exactly one request.
type Response struct {
	Status Status

	// Op is the command name, or "auth" / "protocol" when the request never
	// reached dispatch.
	Op string

	// Path is the affected path. Empty for authentication failures.
	Path string

	// Kind classifies a failure. Empty on success.
	Kind Kind

	// Remaining is set only for get-retention responses.
	Remaining *int64

	// Warning carries a non-fatal problem on an otherwise successful
	// operation (for example a failed label after a committed write).
	Warning string

	// Message is a human-readable description.
	Message string
}

// OK reports whether the response carries the success marker.
func (r *Response) OK() bool {
	return r.Status == StatusOK
}

// Success builds a successful response for cmd on path.
func Success(cmd Command, path string) *Response {
	return &Response{Status: StatusOK, Op: cmd.String(), Path: path}
}

// RetentionResponse builds the get-retention response.
func RetentionResponse(path string, remaining int64) *Response {
	return &Response{
		Status:    StatusOK,
		Op:        CommandGetRetention.String(),
		Path:      path,
		Remaining: &remaining,
	}
}

// Failure builds a failed response for op on path from err.
//
// When err is a *Error its Kind and Message are used; any other error is
// reported as KindIO.
func Failure(op, path string, err error) *Response {
	resp := &Response{Status: StatusFail, Op: op, Path: path, Kind: KindIO}
	if err == nil {
		return resp
	}

	if be, ok := AsError(err); ok {
		resp.Kind = be.Kind
		resp.Message = be.Message
		if resp.Message == "" && be.Err != nil {
			resp.Message = be.Err.Error()
		}
		return resp
	}

	resp.Message = err.Error()
	return resp
}
