package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/opencode-ai/opencode-lsp/internal/lsp/jsonrpc"
	"github.com/opencode-ai/opencode-lsp/internal/lsp/protocol"
	"github.com/opencode-ai/opencode-lsp/internal/lsp/registry"
	"github.com/opencode-ai/opencode-lsp/internal/lsp/transport"
	"github.com/stretchr/testify/require"
)

// fakeServer is an in-memory transport that answers the lifecycle requests
// itself and hands every other client message to react.
type fakeServer struct {
	mu        sync.Mutex
	connected bool
	next      int
	subs      map[int]transport.Handlers
	sent      []*jsonrpc.Message
	react     func(f *fakeServer, msg *jsonrpc.Message)
}

func newFakeServer(react func(f *fakeServer, msg *jsonrpc.Message)) *fakeServer {
	return &fakeServer{subs: make(map[int]transport.Handlers), react: react}
}

func (f *fakeServer) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeServer) Disconnect() error {
	f.close()
	return nil
}

func (f *fakeServer) Mode() transport.Mode { return transport.ModeStdio }

func (f *fakeServer) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeServer) Subscribe(h transport.Handlers) func() {
	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = h
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

func (f *fakeServer) Send(data []byte) error {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return transport.ErrNotConnected
	}
	var d jsonrpc.Decoder
	var msgs []*jsonrpc.Message
	for _, frame := range d.Feed(data) {
		var msg jsonrpc.Message
		if err := json.Unmarshal(frame, &msg); err != nil {
			f.mu.Unlock()
			return err
		}
		f.sent = append(f.sent, &msg)
		msgs = append(msgs, &msg)
	}
	f.mu.Unlock()

	for _, msg := range msgs {
		switch msg.Method {
		case protocol.MethodInitialize:
			go f.reply(msg.ID, map[string]any{"capabilities": map[string]any{}})
		case protocol.MethodShutdown:
			go f.reply(msg.ID, nil)
		default:
			if f.react != nil {
				go f.react(f, msg)
			}
		}
	}
	return nil
}

func (f *fakeServer) handlers() []transport.Handlers {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]transport.Handlers, 0, len(f.subs))
	for i := 0; i < f.next; i++ {
		if h, ok := f.subs[i]; ok {
			out = append(out, h)
		}
	}
	return out
}

func (f *fakeServer) deliver(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	for _, h := range f.handlers() {
		if h.OnData != nil {
			h.OnData(jsonrpc.Encode(payload))
		}
	}
}

func (f *fakeServer) reply(id json.RawMessage, result any) {
	f.deliver(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
}

func (f *fakeServer) publish(uri protocol.DocumentUri, diagnostics ...protocol.Diagnostic) {
	if diagnostics == nil {
		diagnostics = []protocol.Diagnostic{}
	}
	f.deliver(map[string]any{
		"jsonrpc": "2.0",
		"method":  protocol.MethodPublishDiagnostics,
		"params":  protocol.PublishDiagnosticsParams{URI: uri, Diagnostics: diagnostics},
	})
}

func (f *fakeServer) close() {
	f.mu.Lock()
	was := f.connected
	f.connected = false
	f.mu.Unlock()
	if !was {
		return
	}
	for _, h := range f.handlers() {
		if h.OnClose != nil {
			h.OnClose()
		}
	}
}

func (f *fakeServer) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, msg := range f.sent {
		if msg.Method == method {
			n++
		}
	}
	return n
}

func (f *fakeServer) last(method string) *jsonrpc.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].Method == method {
			return f.sent[i]
		}
	}
	return nil
}

// response finds the client's answer to a server request.
func (f *fakeServer) response(id string) *jsonrpc.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, msg := range f.sent {
		if msg.IsResponse() && string(msg.ID) == id {
			return msg
		}
	}
	return nil
}

// documentURI extracts textDocument.uri from didOpen and didChange params.
func documentURI(msg *jsonrpc.Message) protocol.DocumentUri {
	var params struct {
		TextDocument struct {
			URI protocol.DocumentUri `json:"uri"`
		} `json:"textDocument"`
	}
	_ = json.Unmarshal(msg.Params, &params)
	return params.TextDocument.URI
}

func diagnosticAt(line uint32, severity protocol.DiagnosticSeverity, message string) protocol.Diagnostic {
	return protocol.Diagnostic{
		Range: protocol.Range{
			Start: protocol.Position{Line: line, Character: 2},
			End:   protocol.Position{Line: line, Character: 8},
		},
		Severity: severity,
		Source:   "fake",
		Message:  message,
	}
}

// publishOnSync answers every didOpen and didChange with the given
// diagnostics.
func publishOnSync(diagnostics ...protocol.Diagnostic) func(*fakeServer, *jsonrpc.Message) {
	return func(f *fakeServer, msg *jsonrpc.Message) {
		if msg.Method == protocol.MethodDidOpen || msg.Method == protocol.MethodDidChange {
			f.publish(documentURI(msg), diagnostics...)
		}
	}
}

// factoryFor hands out servers built by newServer and remembers them.
type factoryFor struct {
	mu        sync.Mutex
	newServer func() *fakeServer
	servers   []*fakeServer
}

func (ff *factoryFor) build(registry.LanguageServerConfig, string) (transport.Transport, error) {
	s := ff.newServer()
	ff.mu.Lock()
	ff.servers = append(ff.servers, s)
	ff.mu.Unlock()
	return s, nil
}

func (ff *factoryFor) server(t *testing.T, i int) *fakeServer {
	t.Helper()
	ff.mu.Lock()
	defer ff.mu.Unlock()
	require.Greater(t, len(ff.servers), i, "server %d not started", i)
	return ff.servers[i]
}

func fakeConfig(id string, exts ...string) registry.LanguageServerConfig {
	return registry.LanguageServerConfig{
		ID:         id,
		Name:       fmt.Sprintf("%s server", id),
		Extensions: exts,
		Transport:  registry.TransportStdio,
		Command:    "fake-" + id,
	}
}

func testProviderOptions(ff *factoryFor) ProviderOptions {
	return ProviderOptions{
		RequestTimeout:     2 * time.Second,
		DiagnosticsTimeout: 2 * time.Second,
		NewTransport:       ff.build,
	}
}
