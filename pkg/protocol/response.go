package protocol

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/marmos91/immutabled/pkg/broker"
)

// MaxResponseSize bounds how much a client reads back.
const MaxResponseSize = 64 * 1024

// Response field keys.
const (
	fieldPath      = "path"
	fieldKind      = "kind"
	fieldRemaining = "remaining"
	fieldWarning   = "warning"
	fieldMessage   = "message"
)

// RemainingMarker precedes the decimal remaining-seconds value in a
// get-retention response.
const RemainingMarker = fieldRemaining + "="

// EncodeResponse renders resp as one newline-terminated line:
//
//	<STATUS> <op> [path=...] [kind=...] [remaining=N] [warning=...] [message=...]
//
// Tokens are shell-quoted so that paths and messages with spaces or quotes
// survive a round trip through DecodeResponse.
func EncodeResponse(resp *broker.Response) []byte {
	status := resp.Status
	if status == "" {
		status = broker.StatusFail
	}
	op := resp.Op
	if op == "" {
		op = "unknown"
	}

	tokens := []string{string(status), op}
	if resp.Path != "" {
		tokens = append(tokens, fieldPath+"="+resp.Path)
	}
	if resp.Kind != "" {
		tokens = append(tokens, fieldKind+"="+string(resp.Kind))
	}
	if resp.Remaining != nil {
		tokens = append(tokens, RemainingMarker+strconv.FormatInt(*resp.Remaining, 10))
	}
	if resp.Warning != "" {
		tokens = append(tokens, fieldWarning+"="+resp.Warning)
	}
	if resp.Message != "" {
		tokens = append(tokens, fieldMessage+"="+resp.Message)
	}

	return []byte(shellquote.Join(tokens...) + "\n")
}

// WriteResponse encodes resp onto w.
func WriteResponse(w io.Writer, resp *broker.Response) error {
	_, err := w.Write(EncodeResponse(resp))
	return err
}

// ReadResponse reads the response from r. The broker sends exactly one
// response and then closes, so everything up to EOF belongs to it: a quoted
// path may itself contain a newline.
func ReadResponse(r io.Reader) (*broker.Response, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxResponseSize))
	if err != nil && len(data) == 0 {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty response")
	}
	return DecodeResponse(string(data))
}

// DecodeResponse parses a line produced by EncodeResponse.
func DecodeResponse(line string) (*broker.Response, error) {
	tokens, err := shellquote.Split(strings.TrimSuffix(line, "\n"))
	if err != nil {
		return nil, fmt.Errorf("malformed response %q: %w", line, err)
	}
	if len(tokens) < 2 {
		return nil, fmt.Errorf("malformed response %q: missing status or op", line)
	}

	resp := &broker.Response{Status: broker.Status(tokens[0]), Op: tokens[1]}
	if resp.Status != broker.StatusOK && resp.Status != broker.StatusFail {
		return nil, fmt.Errorf("malformed response %q: unknown status %q", line, tokens[0])
	}

	for _, tok := range tokens[2:] {
		key, value, ok := strings.Cut(tok, "=")
		if !ok {
			continue
		}
		switch key {
		case fieldPath:
			resp.Path = value
		case fieldKind:
			resp.Kind = broker.Kind(value)
		case fieldRemaining:
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("malformed response %q: remaining: %w", line, err)
			}
			resp.Remaining = &n
		case fieldWarning:
			resp.Warning = value
		case fieldMessage:
			resp.Message = value
		}
	}

	return resp, nil
}
