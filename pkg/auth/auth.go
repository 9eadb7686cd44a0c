// Package auth gates every broker request on a shared secret and on the
// shape of the target path.
package auth

import (
	"crypto/subtle"
	"strings"

	"github.com/marmos91/immutabled/pkg/broker"
)

// Failure reasons. They are logged server-side only; the caller always sees
// the same generic message.
const (
	ReasonToken     = "token mismatch"
	ReasonEmptyPath = "empty path"
	ReasonLongPath  = "path too long"
	ReasonTraversal = "path contains a parent-directory segment"
)

// GenericMessage is the only message an unauthenticated caller receives.
const GenericMessage = "authentication failed"

// Authenticator checks requests against a configured token.
type Authenticator struct {
	token []byte
}

// New creates an Authenticator for token. An empty token matches nothing.
func New(token string) *Authenticator {
	return &Authenticator{token: []byte(token)}
}

// Authenticate accepts req only if its token matches, its path is non-empty
// and shorter than broker.MaxPathLen, and no path segment is "..".
//
// The returned error is a KindAuth *broker.Error whose Message is always
// GenericMessage; the specific reason is in the wrapped error for logging.
// Authenticate has no side effects.
func (a *Authenticator) Authenticate(req *broker.Request) error {
	if reason := a.check(req); reason != "" {
		return broker.Wrap(broker.KindAuth, "auth", "", GenericMessage, reasonError(reason))
	}
	return nil
}

func (a *Authenticator) check(req *broker.Request) string {
	if len(a.token) == 0 || subtle.ConstantTimeCompare(a.token, []byte(req.Token)) != 1 {
		return ReasonToken
	}
	if req.Path == "" {
		return ReasonEmptyPath
	}
	if len(req.Path) >= broker.MaxPathLen {
		return ReasonLongPath
	}
	if HasTraversal(req.Path) {
		return ReasonTraversal
	}
	return ""
}

// HasTraversal reports whether any '/'-separated segment of path is exactly
// "..". Names that merely contain two dots ("a..b", "..hidden") are allowed.
func HasTraversal(path string) bool {
	for _, seg := range strings.Split(path, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

// Reason extracts the logged failure reason from an Authenticate error.
func Reason(err error) string {
	be, ok := broker.AsError(err)
	if !ok || be.Err == nil {
		return ""
	}
	return be.Err.Error()
}

type reasonError string

func (r reasonError) Error() string { return string(r) }
