package lsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestRequestID(t *testing.T) {
	id := RequestID{DocumentKey: "doc7", Method: MethodCompletion}
	assert.Equal(t, "doc7_textDocument/completion", id.String())

	parsed, ok := ParseRequestID(id.String())
	require.True(t, ok)
	assert.Equal(t, id, parsed)

	// Only the first separator splits; methods may contain underscores.
	parsed, ok = ParseRequestID("k_custom_method")
	require.True(t, ok)
	assert.Equal(t, RequestID{DocumentKey: "k", Method: "custom_method"}, parsed)

	for _, bad := range []string{"", "nounderscore", "_method", "key_", "17"} {
		_, ok := ParseRequestID(bad)
		assert.False(t, ok, bad)
	}
}

func TestParseMessage_Kinds(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		kind   MessageKind
		id     string
		method string
	}{
		{"response", `{"jsonrpc":"2.0","id":"d_textDocument/hover","result":{"contents":"x"}}`, KindResponse, "d_textDocument/hover", ""},
		{"null result", `{"jsonrpc":"2.0","id":"d_textDocument/hover","result":null}`, KindResponse, "d_textDocument/hover", ""},
		{"error", `{"jsonrpc":"2.0","id":"d_x","error":{"code":-32601,"message":"nope"}}`, KindError, "d_x", ""},
		{"notification", `{"jsonrpc":"2.0","method":"window/logMessage","params":{"type":3,"message":"hi"}}`, KindNotification, "", "window/logMessage"},
		{"server request", `{"jsonrpc":"2.0","id":4,"method":"workspace/configuration","params":{"items":[]}}`, KindRequest, "4", "workspace/configuration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseMessage([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.kind, msg.Kind)
			assert.Equal(t, tt.id, msg.ID)
			assert.Equal(t, tt.method, msg.Method)
		})
	}
}

func TestParseMessage_ErrorPayload(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"jsonrpc":"2.0","id":"d_x","error":{"code":-32800,"message":"cancelled"}}`))
	require.NoError(t, err)
	require.NotNil(t, msg.Error)
	assert.Equal(t, CodeRequestCancelled, msg.Error.Code)
	assert.True(t, msg.Error.IsCancelled())
	assert.False(t, msg.Error.IsMethodNotFound())
}

func TestParseMessage_Malformed(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`[1,2]`,
		`{"jsonrpc":"2.0","id":"d_x"}`,
		`{"jsonrpc":"2.0"}`,
		`{"jsonrpc":"2.0","id":"d_x","error":"boom"}`,
	} {
		_, err := ParseMessage([]byte(raw))
		var mre *MalformedResponseError
		assert.ErrorAs(t, err, &mre, raw)
	}
}

func TestEncodeRequest(t *testing.T) {
	body, err := EncodeRequest(RequestID{DocumentKey: "k", Method: MethodHover}, MethodHover,
		TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: "file:///a.cpp"},
			Position:     Position{Line: 4, Character: 10},
		})
	require.NoError(t, err)

	r := gjson.ParseBytes(body)
	assert.Equal(t, "2.0", r.Get("jsonrpc").String())
	assert.Equal(t, "k_textDocument/hover", r.Get("id").String())
	assert.Equal(t, MethodHover, r.Get("method").String())
	assert.Equal(t, int64(10), r.Get("params.position.character").Int())
}

func TestEncodeNotification_NilParams(t *testing.T) {
	body, err := EncodeNotification(MethodExit, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"exit"}`, string(body))
}

func TestEncodeResponse_KeepsIDSpelling(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"jsonrpc":"2.0","id":12,"method":"window/workDoneProgress/create"}`))
	require.NoError(t, err)

	body, err := encodeResponse(msg, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":12,"result":null}`, string(body))

	body, err = encodeErrorResponse(msg, &RPCError{Code: CodeMethodNotFound, Message: "no"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":12,"error":{"code":-32601,"message":"no"}}`, string(body))
}
