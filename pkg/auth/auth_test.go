package auth

import (
	"strings"
	"testing"

	"github.com/marmos91/immutabled/pkg/broker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticate(t *testing.T) {
	a := New("secret")

	tests := []struct {
		name   string
		req    broker.Request
		reason string
	}{
		{"ok", broker.Request{Token: "secret", Path: "/tmp/a.txt"}, ""},
		{"dots in name", broker.Request{Token: "secret", Path: "/tmp/a..b"}, ""},
		{"hidden dots", broker.Request{Token: "secret", Path: "/tmp/..hidden"}, ""},
		{"max length", broker.Request{Token: "secret", Path: "/" + strings.Repeat("a", broker.MaxPathLen-2)}, ""},
		{"wrong token", broker.Request{Token: "wrong", Path: "/tmp/a.txt"}, ReasonToken},
		{"token prefix", broker.Request{Token: "secre", Path: "/tmp/a.txt"}, ReasonToken},
		{"empty token", broker.Request{Token: "", Path: "/tmp/a.txt"}, ReasonToken},
		{"empty path", broker.Request{Token: "secret", Path: ""}, ReasonEmptyPath},
		{"too long", broker.Request{Token: "secret", Path: "/" + strings.Repeat("a", broker.MaxPathLen-1)}, ReasonLongPath},
		{"traversal middle", broker.Request{Token: "secret", Path: "/tmp/../etc/passwd"}, ReasonTraversal},
		{"traversal end", broker.Request{Token: "secret", Path: "/tmp/.."}, ReasonTraversal},
		{"traversal relative", broker.Request{Token: "secret", Path: "../x"}, ReasonTraversal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.Authenticate(&tt.req)
			if tt.reason == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, broker.KindAuth, broker.KindOf(err))
			assert.Equal(t, tt.reason, Reason(err))

			be, ok := broker.AsError(err)
			require.True(t, ok)
			assert.Equal(t, GenericMessage, be.Message)
		})
	}
}

func TestEmptyConfiguredTokenRejectsAll(t *testing.T) {
	a := New("")
	err := a.Authenticate(&broker.Request{Token: "", Path: "/tmp/a"})
	require.Error(t, err)
	assert.Equal(t, ReasonToken, Reason(err))
}

func TestHasTraversal(t *testing.T) {
	assert.True(t, HasTraversal(".."))
	assert.True(t, HasTraversal("a/../b"))
	assert.False(t, HasTraversal("a/.../b"))
	assert.False(t, HasTraversal("a/./b"))
	assert.False(t, HasTraversal("/"))
}
