package cluster

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseMessage tests splitting protocol lines into command and arguments
func TestParseMessage(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantCmd  string
		wantArgs []string
		wantErr  bool
	}{
		{
			name:     "command without arguments",
			line:     "LIST",
			wantCmd:  TokenList,
			wantArgs: []string{},
		},
		{
			name:     "store request",
			line:     "STORE report.pdf 1024",
			wantCmd:  TokenStore,
			wantArgs: []string{"report.pdf", "1024"},
		},
		{
			name:     "repeated whitespace collapses",
			line:     "  STORE_TO   4001  4002 ",
			wantCmd:  TokenStoreTo,
			wantArgs: []string{"4001", "4002"},
		},
		{
			name:    "empty line",
			line:    "",
			wantErr: true,
		},
		{
			name:    "blank line",
			line:    "   \t ",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseMessage(tt.line)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformedRequest))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCmd, msg.Command)
			assert.Equal(t, tt.wantArgs, msg.Args)
		})
	}
}

// TestMessageString tests rendering messages back to protocol lines
func TestMessageString(t *testing.T) {
	assert.Equal(t, "LIST", NewMessage(TokenList).String())
	assert.Equal(t, "LOAD_FROM 4001 100", NewMessage(TokenLoadFrom, "4001", "100").String())
	assert.Equal(t, "STORE_TO 4001 4002", NewMessage(TokenStoreTo, PortArgs([]int{4001, 4002})...).String())
}

// TestMessageArguments tests typed argument accessors
func TestMessageArguments(t *testing.T) {
	t.Run("integer argument", func(t *testing.T) {
		msg := NewMessage(TokenStore, "a.txt", "42")
		v, err := msg.Int(1)
		require.NoError(t, err)
		assert.Equal(t, int64(42), v)
	})

	t.Run("non-numeric integer argument", func(t *testing.T) {
		msg := NewMessage(TokenStore, "a.txt", "big")
		_, err := msg.Int(1)
		assert.ErrorIs(t, err, ErrMalformedRequest)
	})

	t.Run("missing argument", func(t *testing.T) {
		msg := NewMessage(TokenJoin)
		_, err := msg.Port(0)
		assert.ErrorIs(t, err, ErrMalformedRequest)
	})

	t.Run("port out of range", func(t *testing.T) {
		for _, p := range []string{"0", "-1", "70000"} {
			_, err := NewMessage(TokenJoin, p).Port(0)
			assert.ErrorIs(t, err, ErrMalformedRequest, "port %s", p)
		}
	})

	t.Run("port list", func(t *testing.T) {
		ports, err := NewMessage(TokenStoreTo, "4001", "4003").Ports()
		require.NoError(t, err)
		assert.Equal(t, []int{4001, 4003}, ports)

		_, err = NewMessage(TokenStoreTo, "4001", "x").Ports()
		assert.ErrorIs(t, err, ErrMalformedRequest)
	})

	t.Run("argument count", func(t *testing.T) {
		assert.NoError(t, NewMessage(TokenRemove, "a.txt").Expect(1))
		assert.ErrorIs(t, NewMessage(TokenRemove).Expect(1), ErrMalformedRequest)
		assert.ErrorIs(t, NewMessage(TokenRemove, "a", "b").Expect(1), ErrMalformedRequest)
	})
}

// TestErrorTokens tests the mapping between sentinel errors and wire tokens
func TestErrorTokens(t *testing.T) {
	tests := []struct {
		err   error
		token string
	}{
		{ErrNotEnoughNodes, TokenErrorNotEnoughNodes},
		{ErrFileAlreadyExists, TokenErrorFileExists},
		{ErrFileDoesNotExist, TokenErrorFileDoesNotExist},
		{ErrLoadUnavailable, TokenErrorLoad},
		{ErrStoreQuorumTimeout, TokenErrorStore},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			wrapped := fmt.Errorf("store a.txt: %w", tt.err)
			token, ok := ErrorToken(wrapped)
			require.True(t, ok)
			assert.Equal(t, tt.token, token)
			assert.Equal(t, tt.err, ErrorFromToken(tt.token))
		})
	}

	_, ok := ErrorToken(ErrNodeUnreachable)
	assert.False(t, ok, "node failures never reach clients")
	assert.Nil(t, ErrorFromToken(TokenStoreComplete))
}
