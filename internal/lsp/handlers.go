package lsp

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/tidwall/gjson"
)

// notificationHandler handles one notification method.
type notificationHandler func(method string, params json.RawMessage)

// requestHandler answers one server-to-client request method.
type requestHandler func(params json.RawMessage) (any, *RPCError)

// notificationTable maps notification methods to handlers. Methods absent
// from the table are logged and dropped.
func (d *Dispatcher) notificationTable() map[string]notificationHandler {
	return map[string]notificationHandler{
		MethodPublishDiagnostics: d.routeByURI,
		MethodClangdFileStatus:   d.routeByURI,
		MethodLogMessage:         d.logServerMessage,
		MethodShowMessage:        d.logServerMessage,
		MethodProgress:           d.traceProgress,
	}
}

// requestTable maps server requests to their answers. Methods absent from
// the table are answered with MethodNotFound.
func (d *Dispatcher) requestTable() map[string]requestHandler {
	return map[string]requestHandler{
		MethodWorkspaceConfiguration: answerConfiguration,
		MethodWorkDoneProgressCreate: answerNull,
		MethodRegisterCapability:     answerNull,
		MethodUnregisterCapability:   answerNull,
		MethodWorkspaceApplyEdit:     answerApplyEdit,
	}
}

func (d *Dispatcher) handleNotification(msg *InboundMessage) {
	h, ok := d.notifications[msg.Method]
	if !ok {
		d.logger.Debug("dropping unhandled notification", "method", msg.Method)
		recordDroppedMessage(d.name, "unhandled")
		return
	}
	h(msg.Method, msg.Params)
}

// routeByURI forwards a notification to the document its uri names.
func (d *Dispatcher) routeByURI(method string, params json.RawMessage) {
	uri := DocumentURI(gjson.GetBytes(params, "uri").String())
	if uri == "" {
		d.logger.Warn("dropping notification without uri", "method", method)
		recordDroppedMessage(d.name, "malformed")
		return
	}
	doc := d.DocumentByURI(uri)
	if doc == nil {
		d.logger.Debug("dropping notification for unregistered document", "method", method, "uri", uri)
		recordDroppedMessage(d.name, "unrouted")
		return
	}
	doc.HandleNotification(method, params)
}

// logServerMessage re-emits window/logMessage and window/showMessage.
func (d *Dispatcher) logServerMessage(method string, params json.RawMessage) {
	p := gjson.ParseBytes(params)
	level := slog.LevelInfo
	switch p.Get("type").Int() {
	case 1:
		level = slog.LevelError
	case 2:
		level = slog.LevelWarn
	case 4, 5:
		level = slog.LevelDebug
	}
	d.logger.Log(context.Background(), level, p.Get("message").String(), "method", method)
}

func (d *Dispatcher) traceProgress(method string, params json.RawMessage) {
	p := gjson.ParseBytes(params)
	d.logger.Debug("server progress",
		"token", p.Get("token").String(),
		"kind", p.Get("value.kind").String(),
		"title", p.Get("value.title").String(),
		"message", p.Get("value.message").String())
}

func (d *Dispatcher) handleServerRequest(msg *InboundMessage) {
	var (
		body []byte
		err  error
	)
	if h, ok := d.requests[msg.Method]; ok {
		result, rpcErr := h(msg.Params)
		if rpcErr != nil {
			body, err = encodeErrorResponse(msg, rpcErr)
		} else {
			body, err = encodeResponse(msg, result)
		}
	} else {
		d.logger.Debug("rejecting unhandled server request", "method", msg.Method)
		body, err = encodeErrorResponse(msg, &RPCError{
			Code:    CodeMethodNotFound,
			Message: "method not found: " + msg.Method,
		})
	}
	if err != nil {
		d.logger.Warn("encoding reply failed", "method", msg.Method, "error", err)
		return
	}
	if err := d.writer.Write(body); err != nil {
		d.logger.Warn("sending reply failed", "method", msg.Method, "error", err)
	}
}

// answerConfiguration returns one null per requested item: the client has
// no settings to offer.
func answerConfiguration(params json.RawMessage) (any, *RPCError) {
	items := gjson.GetBytes(params, "items").Array()
	return make([]any, len(items)), nil
}

func answerNull(json.RawMessage) (any, *RPCError) {
	return nil, nil
}

func answerApplyEdit(json.RawMessage) (any, *RPCError) {
	return map[string]any{
		"applied":       false,
		"failureReason": "client does not apply server-initiated edits",
	}, nil
}
