package lsp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// LSP method names used by the client.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "initialized"
	MethodShutdown    = "shutdown"
	MethodExit        = "exit"

	MethodDidOpen   = "textDocument/didOpen"
	MethodDidChange = "textDocument/didChange"
	MethodDidClose  = "textDocument/didClose"
	MethodDidSave   = "textDocument/didSave"

	MethodCompletion         = "textDocument/completion"
	MethodHover              = "textDocument/hover"
	MethodSignatureHelp      = "textDocument/signatureHelp"
	MethodDefinition         = "textDocument/definition"
	MethodDeclaration        = "textDocument/declaration"
	MethodImplementation     = "textDocument/implementation"
	MethodDocumentSymbol     = "textDocument/documentSymbol"
	MethodDocumentLink       = "textDocument/documentLink"
	MethodFormatting         = "textDocument/formatting"
	MethodRangeFormatting    = "textDocument/rangeFormatting"
	MethodCodeAction         = "textDocument/codeAction"
	MethodCodeActionResolve  = "codeAction/resolve"
	MethodRename             = "textDocument/rename"
	MethodSwitchSourceHeader = "textDocument/switchSourceHeader"

	MethodPublishDiagnostics = "textDocument/publishDiagnostics"
	MethodClangdFileStatus   = "textDocument/clangd.fileStatus"
	MethodLogMessage         = "window/logMessage"
	MethodShowMessage        = "window/showMessage"
	MethodProgress           = "$/progress"

	MethodWorkspaceConfiguration = "workspace/configuration"
	MethodWorkspaceApplyEdit     = "workspace/applyEdit"
	MethodWorkDoneProgressCreate = "window/workDoneProgress/create"
	MethodRegisterCapability     = "client/registerCapability"
	MethodUnregisterCapability   = "client/unregisterCapability"
)

// requestIDSeparator joins document key and method in a wire request id.
const requestIDSeparator = "_"

// bootstrapKey is the document key of the server lifecycle requests.
const bootstrapKey = "client"

// RequestID identifies an outstanding request by its originating document
// and method. Only one request per pair is outstanding at a time.
type RequestID struct {
	DocumentKey string
	Method      string
}

// String returns the wire form "<documentKey>_<method>".
func (id RequestID) String() string {
	return id.DocumentKey + requestIDSeparator + id.Method
}

// ParseRequestID splits a wire id on its first separator.
func ParseRequestID(s string) (RequestID, bool) {
	key, method, ok := strings.Cut(s, requestIDSeparator)
	if !ok || key == "" || method == "" {
		return RequestID{}, false
	}
	return RequestID{DocumentKey: key, Method: method}, true
}

// MessageKind classifies an inbound JSON-RPC message.
type MessageKind int

const (
	KindInvalid MessageKind = iota
	KindRequest
	KindResponse
	KindError
	KindNotification
)

// String returns a human-readable kind name.
func (k MessageKind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindError:
		return "error"
	case KindNotification:
		return "notification"
	default:
		return "invalid"
	}
}

// InboundMessage is a classified message read from a server.
type InboundMessage struct {
	Kind   MessageKind
	ID     string // textual id; numeric ids keep their JSON spelling
	Method string
	Params json.RawMessage
	Result json.RawMessage
	Error  *RPCError

	rawID string
}

// ParseMessage classifies raw as a request, response, error response or
// notification.
func ParseMessage(raw []byte) (*InboundMessage, error) {
	if !gjson.ValidBytes(raw) {
		return nil, &MalformedResponseError{Err: fmt.Errorf("invalid JSON")}
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, &MalformedResponseError{Err: fmt.Errorf("message is not an object")}
	}

	id := root.Get("id")
	method := root.Get("method")
	hasID := id.Exists() && id.Type != gjson.Null

	msg := &InboundMessage{Method: method.String()}
	if hasID {
		msg.rawID = id.Raw
		if id.Type == gjson.String {
			msg.ID = id.Str
		} else {
			msg.ID = id.Raw
		}
	}
	if params := root.Get("params"); params.Exists() {
		msg.Params = json.RawMessage(params.Raw)
	}

	switch {
	case hasID && method.Exists():
		msg.Kind = KindRequest
	case hasID && root.Get("error").Exists():
		msg.Kind = KindError
		var rpcErr RPCError
		if err := json.Unmarshal([]byte(root.Get("error").Raw), &rpcErr); err != nil {
			return nil, &MalformedResponseError{Field: "error", Err: err}
		}
		msg.Error = &rpcErr
	case hasID && root.Get("result").Exists():
		msg.Kind = KindResponse
		msg.Result = json.RawMessage(root.Get("result").Raw)
	case hasID:
		return nil, &MalformedResponseError{Field: "result"}
	case method.Exists():
		msg.Kind = KindNotification
	default:
		return nil, &MalformedResponseError{Field: "id"}
	}
	return msg, nil
}

// envelope returns the empty JSON-RPC 2.0 envelope.
func envelope() []byte {
	return []byte(`{"jsonrpc":"2.0"}`)
}

// setParams marshals params into the envelope. Nil params are omitted.
func setParams(body []byte, params any) ([]byte, error) {
	if params == nil {
		return body, nil
	}
	var raw []byte
	switch p := params.(type) {
	case json.RawMessage:
		raw = p
	default:
		var err error
		raw, err = json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
	}
	return sjson.SetRawBytes(body, "params", raw)
}

// EncodeRequest builds a request envelope.
func EncodeRequest(id RequestID, method string, params any) ([]byte, error) {
	body, err := sjson.SetBytes(envelope(), "id", id.String())
	if err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, "method", method); err != nil {
		return nil, err
	}
	return setParams(body, params)
}

// EncodeNotification builds a notification envelope.
func EncodeNotification(method string, params any) ([]byte, error) {
	body, err := sjson.SetBytes(envelope(), "method", method)
	if err != nil {
		return nil, err
	}
	return setParams(body, params)
}

// encodeResponse answers the server request msg with result.
func encodeResponse(msg *InboundMessage, result any) ([]byte, error) {
	body, err := sjson.SetRawBytes(envelope(), "id", []byte(msg.rawID))
	if err != nil {
		return nil, err
	}
	raw := []byte("null")
	if result != nil {
		if raw, err = json.Marshal(result); err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
	}
	return sjson.SetRawBytes(body, "result", raw)
}

// encodeErrorResponse answers the server request msg with an error.
func encodeErrorResponse(msg *InboundMessage, rpcErr *RPCError) ([]byte, error) {
	body, err := sjson.SetRawBytes(envelope(), "id", []byte(msg.rawID))
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(rpcErr)
	if err != nil {
		return nil, err
	}
	return sjson.SetRawBytes(body, "error", raw)
}
