package lsp

import (
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// stubDoc is a DocumentHandler that records what it is told.
type stubDoc struct {
	key           string
	uri           DocumentURI
	notifications []string
	ready         int
	lost          int
}

func (d *stubDoc) Key() string      { return d.key }
func (d *stubDoc) URI() DocumentURI { return d.uri }

func (d *stubDoc) HandleNotification(method string, _ json.RawMessage) {
	d.notifications = append(d.notifications, method)
}

func (d *stubDoc) CapabilitiesReady(Negotiated) { d.ready++ }
func (d *stubDoc) ServerLost()                  { d.lost++ }

type response struct {
	result json.RawMessage
	err    error
}

func TestDispatcher_Initialize(t *testing.T) {
	h := newHarness(t, defaultCaps, WithExtensions([]string{ExtSwitchSourceHeader}))
	doc := &stubDoc{key: "d1", uri: "file:///src/a.cpp"}
	h.do(func() {
		h.disp.Register(doc)
		assert.Equal(t, StateUninitialized, h.disp.State())
	})

	h.initialize()

	h.server.mu.Lock()
	init := h.server.log[0]
	h.server.mu.Unlock()
	assert.Equal(t, "client_initialize", init.ID)
	assert.Equal(t, "file:///src", gjson.GetBytes(init.Params, "rootUri").String())

	h.do(func() {
		assert.Equal(t, StateReady, h.disp.State())
		n := h.disp.Negotiated()
		assert.True(t, n.Capabilities.Has(CapCompletion))
		assert.True(t, n.Capabilities.Has(CapSwitchSourceHeader))
		assert.Equal(t, "fake", n.ServerName)
		assert.Equal(t, 1, doc.ready, "registered documents learn the capabilities")
	})

	var err error
	h.do(func() { err = h.disp.Initialize(InitializeParams{}) })
	assert.Error(t, err, "initialize is sent once")
}

func TestDispatcher_RequestsBeforeReady(t *testing.T) {
	h := newHarness(t, defaultCaps)
	var err error
	called := false
	h.do(func() {
		_, err = h.disp.SendRequest("d1", MethodHover, nil, func(json.RawMessage, error) { called = true })
	})
	assert.ErrorIs(t, err, ErrNotReady)
	assert.False(t, called, "callbacks never run when sending fails")
}

func TestDispatcher_ResponseRouting(t *testing.T) {
	h := newHarness(t, defaultCaps)
	h.initialize()

	var got []response
	h.do(func() {
		_, err := h.disp.SendRequest("d1", MethodHover, nil, func(r json.RawMessage, err error) {
			got = append(got, response{r, err})
		})
		require.NoError(t, err)
		assert.True(t, h.disp.Pending(RequestID{DocumentKey: "d1", Method: MethodHover}))
	})

	req := h.server.expect(MethodHover)
	assert.Equal(t, "d1_textDocument/hover", req.ID)

	// Unknown and foreign ids are dropped without disturbing the pending one.
	h.server.reply("other_textDocument/hover", `{}`)
	h.server.send(`{"jsonrpc":"2.0","id":99,"result":{}}`)
	h.server.reply(req.ID, `{"contents":"int x"}`)

	h.eventually(func() bool { return len(got) == 1 }, "hover response not delivered")
	h.do(func() {
		assert.NoError(t, got[0].err)
		assert.JSONEq(t, `{"contents":"int x"}`, string(got[0].result))
		assert.Zero(t, h.disp.PendingCount())
	})
}

func TestDispatcher_ErrorResponse(t *testing.T) {
	h := newHarness(t, defaultCaps)
	h.initialize()

	var got []response
	h.do(func() {
		_, err := h.disp.SendRequest("d1", MethodRename, nil, func(r json.RawMessage, err error) {
			got = append(got, response{r, err})
		})
		require.NoError(t, err)
	})
	req := h.server.expect(MethodRename)
	h.server.send(`{"jsonrpc":"2.0","id":"` + req.ID + `","error":{"code":-32803,"message":"cannot rename"}}`)

	h.eventually(func() bool { return len(got) == 1 }, "error response not delivered")
	h.do(func() {
		var rpcErr *RPCError
		require.ErrorAs(t, got[0].err, &rpcErr)
		assert.Equal(t, CodeRequestFailed, rpcErr.Code)
	})
}

func TestDispatcher_SupersededRequest(t *testing.T) {
	h := newHarness(t, defaultCaps)
	h.initialize()

	var first, second []response
	h.do(func() {
		_, err := h.disp.SendRequest("d1", MethodCompletion, nil, func(r json.RawMessage, err error) {
			first = append(first, response{r, err})
		})
		require.NoError(t, err)
		_, err = h.disp.SendRequest("d1", MethodCompletion, nil, func(r json.RawMessage, err error) {
			second = append(second, response{r, err})
		})
		require.NoError(t, err)

		require.Len(t, first, 1, "the older request ends immediately")
		assert.ErrorIs(t, first[0].err, ErrSuperseded)
		assert.Equal(t, 1, h.disp.PendingCount())
	})

	h.server.expect(MethodCompletion)
	req := h.server.expect(MethodCompletion)
	h.server.reply(req.ID, `[]`)

	h.eventually(func() bool { return len(second) == 1 }, "newer request not answered")
	h.do(func() {
		assert.NoError(t, second[0].err)
		assert.Len(t, first, 1, "a superseded callback runs once")
	})
}

func TestDispatcher_DifferentKeysDoNotSupersede(t *testing.T) {
	h := newHarness(t, defaultCaps)
	h.initialize()
	h.do(func() {
		_, err := h.disp.SendRequest("d1", MethodHover, nil, nil)
		require.NoError(t, err)
		_, err = h.disp.SendRequest("d2", MethodHover, nil, nil)
		require.NoError(t, err)
		_, err = h.disp.SendRequest("d1", MethodDefinition, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, h.disp.PendingCount())
	})
}

func TestDispatcher_OutOfOrderResponses(t *testing.T) {
	h := newHarness(t, defaultCaps)
	h.initialize()

	const n = 5
	got := make(map[string][]string)
	h.do(func() {
		for i := range n {
			key := "doc" + strconv.Itoa(i)
			_, err := h.disp.SendRequest(key, MethodHover, nil, func(r json.RawMessage, err error) {
				require.NoError(t, err)
				got[key] = append(got[key], gjson.GetBytes(r, "contents").String())
			})
			require.NoError(t, err)
		}
	})

	ids := make([]string, n)
	for i := range n {
		ids[i] = h.server.expect(MethodHover).ID
	}
	for _, i := range []int{3, 0, 4, 1, 2} {
		h.server.reply(ids[i], `{"contents":"`+ids[i]+`"}`)
	}

	h.eventually(func() bool { return len(got) == n }, "not every response was delivered")
	h.do(func() {
		for i := range n {
			key := "doc" + strconv.Itoa(i)
			assert.Equal(t, []string{key + "_" + MethodHover}, got[key], key)
		}
		assert.Zero(t, h.disp.PendingCount())
	})
}

func TestDispatcher_TerminateOnCrash(t *testing.T) {
	var hookErr error
	hookRan := make(chan struct{})
	h := newHarness(t, defaultCaps, WithTerminateHook(func(err error) {
		hookErr = err
		close(hookRan)
	}))
	doc := &stubDoc{key: "d1", uri: "file:///src/a.cpp"}
	h.do(func() { h.disp.Register(doc) })
	h.initialize()

	var got []response
	h.do(func() {
		for _, m := range []string{MethodHover, MethodCompletion} {
			_, err := h.disp.SendRequest("d1", m, nil, func(r json.RawMessage, err error) {
				got = append(got, response{r, err})
			})
			require.NoError(t, err)
		}
	})
	h.server.expect(MethodCompletion)

	h.server.crash()

	select {
	case <-h.disp.Done():
	case <-time.After(waitTimeout):
		t.Fatal("dispatcher not terminated after server output closed")
	}
	<-hookRan

	h.do(func() {
		assert.Equal(t, StateTerminated, h.disp.State())
		require.Len(t, got, 2)
		for _, r := range got {
			assert.ErrorIs(t, r.err, ErrServerTerminated)
		}
		assert.Equal(t, 1, doc.lost)
		assert.Zero(t, h.disp.DocumentCount())
		assert.Zero(t, h.disp.PendingCount())
		assert.NoError(t, hookErr, "a clean EOF has no cause")

		_, err := h.disp.SendRequest("d1", MethodHover, nil, nil)
		assert.ErrorIs(t, err, ErrServerTerminated)

		// Terminating twice is harmless.
		h.disp.Terminate(errors.New("again"))
		assert.Equal(t, 1, doc.lost)
	})
}

func TestDispatcher_UnregisterDropsPending(t *testing.T) {
	h := newHarness(t, defaultCaps)
	h.initialize()

	called := false
	h.do(func() {
		h.disp.Register(&stubDoc{key: "d1", uri: "file:///src/a.cpp"})
		_, err := h.disp.SendRequest("d1", MethodHover, nil, func(json.RawMessage, error) { called = true })
		require.NoError(t, err)
		h.disp.Unregister("d1")
		assert.Zero(t, h.disp.PendingCount())
	})
	req := h.server.expect(MethodHover)
	h.server.reply(req.ID, `null`)
	h.sync()
	h.do(func() { assert.False(t, called, "responses for unregistered documents are dropped") })
}

func TestDispatcher_NotificationRouting(t *testing.T) {
	h := newHarness(t, defaultCaps)
	a := &stubDoc{key: "a", uri: FilePathToURI("/src/a.cpp")}
	b := &stubDoc{key: "b", uri: FilePathToURI("/src/b.cpp")}
	h.do(func() {
		h.disp.Register(a)
		h.disp.Register(b)
	})
	h.initialize()

	h.server.notify(MethodPublishDiagnostics, `{"uri":"file:///src/b.cpp","diagnostics":[]}`)
	h.server.notify(MethodPublishDiagnostics, `{"uri":"file:///src/gone.cpp","diagnostics":[]}`)
	h.server.notify(MethodClangdFileStatus, `{"uri":"file:///src/a.cpp","state":"idle"}`)
	h.server.notify(MethodLogMessage, `{"type":3,"message":"indexing"}`)
	h.server.notify("custom/unknown", `{}`)

	h.eventually(func() bool { return len(a.notifications) == 1 }, "file status not routed")
	h.do(func() {
		assert.Equal(t, []string{MethodClangdFileStatus}, a.notifications)
		assert.Equal(t, []string{MethodPublishDiagnostics}, b.notifications)
	})
}

func TestDispatcher_ServerRequests(t *testing.T) {
	h := newHarness(t, defaultCaps)
	h.initialize()

	var replies []string
	h.do(func() {
		h.disp.writer = writerFunc(func(body []byte) error {
			if gjson.GetBytes(body, "method").Exists() {
				return h.tr.Write(body)
			}
			replies = append(replies, string(body))
			return nil
		})
	})

	h.server.send(`{"jsonrpc":"2.0","id":1,"method":"workspace/configuration","params":{"items":[{"section":"a"},{"section":"b"}]}}`)
	h.server.send(`{"jsonrpc":"2.0","id":"p","method":"window/workDoneProgress/create","params":{"token":"t"}}`)
	h.server.send(`{"jsonrpc":"2.0","id":2,"method":"workspace/applyEdit","params":{"edit":{}}}`)
	h.server.send(`{"jsonrpc":"2.0","id":3,"method":"custom/whatever","params":{}}`)

	h.eventually(func() bool { return len(replies) == 4 }, "server requests not answered")
	h.do(func() {
		assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":[null,null]}`, replies[0])
		assert.JSONEq(t, `{"jsonrpc":"2.0","id":"p","result":null}`, replies[1])
		assert.False(t, gjson.Get(replies[2], "result.applied").Bool())
		assert.Equal(t, int64(CodeMethodNotFound), gjson.Get(replies[3], "error.code").Int())
		assert.Equal(t, int64(3), gjson.Get(replies[3], "id").Int())
	})
}

func TestDispatcher_ShutdownHandshake(t *testing.T) {
	h := newHarness(t, defaultCaps)
	h.initialize()

	var err error
	h.do(func() { err = h.disp.Shutdown() })
	require.NoError(t, err)
	h.server.expect(MethodShutdown)
	h.server.expect(MethodExit)

	select {
	case <-h.disp.ShutdownAcknowledged():
	case <-time.After(waitTimeout):
		t.Fatal("shutdown never acknowledged")
	}
	select {
	case <-h.disp.Done():
	case <-time.After(waitTimeout):
		t.Fatal("dispatcher not terminated after exit")
	}
	h.do(func() {
		assert.True(t, h.disp.shutdownRequested())
		assert.NoError(t, h.disp.Shutdown(), "repeated shutdown is a no-op")
	})
}

type writerFunc func([]byte) error

func (f writerFunc) Write(body []byte) error { return f(body) }
