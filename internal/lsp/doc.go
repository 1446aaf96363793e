// Package lsp implements the Language Server Protocol client core of lspbridge.
//
// The package spawns external language servers (clangd, pylsp, OmniSharp, or
// any configured command), speaks JSON-RPC 2.0 with them over stdio pipes, and
// keeps per-document protocol state for the files an editor has open.
//
// # Architecture
//
// The package is organized as a stack of small components:
//
//   - Codec: Content-Length framing of JSON messages (ReadMessage, WriteMessage)
//   - Transport: one child process, a reader goroutine and a locked write path
//   - Loop: the single consumer goroutine all protocol state lives on
//   - Dispatcher: request correlation and notification routing for one server
//   - Session: one open document (edits, diagnostics, completion, call tips)
//   - Manager: one ServerProcess per project root and server configuration
//
// # Concurrency
//
// The Transport reader goroutine is the only code that runs off the Loop. It
// decodes messages and posts them onto the Loop, which invokes the Dispatcher
// in arrival order. Dispatcher, Session and Manager registration methods must
// be called on the Loop; the Dispatcher's pending-request table and every
// Session field are therefore unsynchronized.
//
//	loop := lsp.NewLoop()
//	go loop.Run(ctx)
//
//	mgr := lsp.NewManager(loop, lsp.WithConfigs(lsp.AvailableConfigs(nil)...))
//	err := loop.Call(ctx, func() {
//	    sess := lsp.NewSession(path, "cpp", buf, ui)
//	    if ok, _ := mgr.RegisterTextDocument(ctx, root, sess); ok {
//	        sess.Open()
//	    }
//	})
//
// # Failure Model
//
// Nothing in this package panics or returns an error to the host for server
// misbehavior. A server that exits or writes a malformed frame is terminated;
// its documents revert to SessionUnbound and the next registration for the
// same project spawns a fresh process.
package lsp
