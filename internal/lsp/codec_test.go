package lsp

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadMessage(t *testing.T) {
	var wire bytes.Buffer
	require.NoError(t, WriteMessage(&wire, []byte(`{"jsonrpc":"2.0","method":"a"}`)))
	require.NoError(t, WriteMessage(&wire, []byte(`{"jsonrpc":"2.0","method":"bé"}`)))

	assert.True(t, strings.HasPrefix(wire.String(), "Content-Length: 30\r\n\r\n{"))

	r := bufio.NewReader(&wire)
	body, err := ReadMessage(r)
	require.NoError(t, err)
	assert.Equal(t, `{"jsonrpc":"2.0","method":"a"}`, string(body))

	body, err = ReadMessage(r)
	require.NoError(t, err)
	assert.Equal(t, `{"jsonrpc":"2.0","method":"bé"}`, string(body), "length counts bytes")

	_, err = ReadMessage(r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadMessage_IgnoresOtherHeaders(t *testing.T) {
	wire := "Content-Type: application/vscode-jsonrpc; charset=utf-8\r\ncontent-length: 2\r\n\r\n{}"
	body, err := ReadMessage(bufio.NewReader(strings.NewReader(wire)))
	require.NoError(t, err)
	assert.Equal(t, "{}", string(body))
}

func TestReadMessage_BareNewlines(t *testing.T) {
	body, err := ReadMessage(bufio.NewReader(strings.NewReader("Content-Length: 2\n\n[]")))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(body))
}

func TestReadMessage_FramingErrors(t *testing.T) {
	tests := []struct {
		name string
		wire string
	}{
		{"missing length", "Content-Type: x\r\n\r\n{}"},
		{"negative length", "Content-Length: -4\r\n\r\n"},
		{"non-numeric length", "Content-Length: ten\r\n\r\n"},
		{"header without colon", "Content-Length 2\r\n\r\n{}"},
		{"truncated body", "Content-Length: 10\r\n\r\n{}"},
		{"eof inside headers", "Content-Length: 2\r\n"},
		{"oversized", "Content-Length: 999999999999\r\n\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadMessage(bufio.NewReader(strings.NewReader(tt.wire)))
			var pe *ProtocolError
			require.ErrorAs(t, err, &pe)
		})
	}
}

func TestReadMessage_CleanEOF(t *testing.T) {
	_, err := ReadMessage(bufio.NewReader(strings.NewReader("")))
	assert.Equal(t, io.EOF, err)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestWriteMessage_Error(t *testing.T) {
	err := WriteMessage(failingWriter{}, []byte("{}"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}
