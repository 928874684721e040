package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/opencode-ai/opencode-lsp/internal/logging"
	"github.com/opencode-ai/opencode-lsp/internal/lsp/jsonrpc"
	"github.com/opencode-ai/opencode-lsp/internal/lsp/protocol"
	"github.com/opencode-ai/opencode-lsp/internal/lsp/registry"
	"github.com/opencode-ai/opencode-lsp/internal/lsp/transport"
	"github.com/opencode-ai/opencode-lsp/internal/version"
)

const (
	DefaultDiagnosticsTimeout = 30 * time.Second
	shutdownTimeout           = 5 * time.Second
)

var ErrProviderDisposed = errors.New("provider disposed")

type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateDisconnected
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateDisconnected:
		return "disconnected"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StartError reports a server that could not be started or initialized.
type StartError struct {
	Server    string
	Transport registry.TransportMode
	Err       error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("failed to start %s (%s): %v", e.Server, e.Transport, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// TransportFactory builds the transport for a server scoped to a project root.
type TransportFactory func(cfg registry.LanguageServerConfig, root string) (transport.Transport, error)

// ProviderOptions tunes timeouts and lets tests swap the transport.
type ProviderOptions struct {
	RequestTimeout     time.Duration
	DiagnosticsTimeout time.Duration
	SettleDelay        time.Duration
	TCPConnectTimeout  time.Duration
	TCPRetries         int
	TCPRetryDelay      time.Duration
	Trace              bool
	NewTransport       TransportFactory
}

func (o ProviderOptions) withDefaults() ProviderOptions {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = jsonrpc.DefaultRequestTimeout
	}
	if o.DiagnosticsTimeout <= 0 {
		o.DiagnosticsTimeout = DefaultDiagnosticsTimeout
	}
	if o.NewTransport == nil {
		o.NewTransport = o.defaultTransport
	}
	return o
}

func (o ProviderOptions) defaultTransport(cfg registry.LanguageServerConfig, root string) (transport.Transport, error) {
	switch cfg.Transport {
	case registry.TransportTCP:
		if cfg.Host == "" || cfg.Port <= 0 {
			return nil, errors.New("tcp transport requires host and port")
		}
		return transport.NewTCP(transport.TCPConfig{
			Host:           cfg.Host,
			Port:           cfg.Port,
			ConnectTimeout: o.TCPConnectTimeout,
			Retries:        o.TCPRetries,
			RetryDelay:     o.TCPRetryDelay,
		}), nil
	case registry.TransportStdio, "":
		if cfg.Command == "" {
			return nil, errors.New("stdio transport requires a command")
		}
		return transport.NewStdio(transport.StdioConfig{
			Command:     cfg.Command,
			Args:        cfg.Args,
			Env:         cfg.Env,
			Dir:         root,
			SettleDelay: o.SettleDelay,
		}), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

type documentState struct {
	version int32
	hash    uint64
}

// Provider is one live connection to one language server for one project
// root.
type Provider struct {
	id     string
	config registry.LanguageServerConfig
	root   string
	opts   ProviderOptions

	// initMu serializes starts and reconnects.
	initMu sync.Mutex

	mu          sync.Mutex
	state       State
	transport   transport.Transport
	client      *jsonrpc.Client
	unsubscribe []func()
	documents   map[protocol.DocumentUri]documentState
	diagnostics map[protocol.DocumentUri][]Diagnostic
	waiters     map[protocol.DocumentUri][]chan struct{}
}

func NewProvider(cfg registry.LanguageServerConfig, root string, opts ProviderOptions) *Provider {
	return &Provider{
		id:          uuid.NewString(),
		config:      cfg.Clone(),
		root:        root,
		opts:        opts.withDefaults(),
		documents:   make(map[protocol.DocumentUri]documentState),
		diagnostics: make(map[protocol.DocumentUri][]Diagnostic),
		waiters:     make(map[protocol.DocumentUri][]chan struct{}),
	}
}

func (p *Provider) ID() string {
	return p.id
}

func (p *Provider) Config() registry.LanguageServerConfig {
	return p.config.Clone()
}

func (p *Provider) Root() string {
	return p.root
}

func (p *Provider) Key() Key {
	return Key{ServerID: p.config.ID, Root: p.root}
}

func (p *Provider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Handles reports whether the provider's server claims the file. No I/O.
func (p *Provider) Handles(path string) bool {
	return p.config.Handles(path)
}

// IsConnected reports whether the provider is ready and its transport live.
func (p *Provider) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectedLocked()
}

func (p *Provider) connectedLocked() bool {
	return p.state == StateReady && p.transport != nil && p.transport.IsConnected()
}

// Initialize connects to the server and performs the initialize handshake.
// It is a no-op when already connected and reconnects a provider whose
// transport closed. Failures are returned as *StartError.
func (p *Provider) Initialize(ctx context.Context) error {
	p.initMu.Lock()
	defer p.initMu.Unlock()

	p.mu.Lock()
	switch {
	case p.state == StateDisposed:
		p.mu.Unlock()
		return ErrProviderDisposed
	case p.connectedLocked():
		p.mu.Unlock()
		return nil
	}
	reconnect := p.transport != nil
	p.state = StateInitializing
	p.mu.Unlock()

	if reconnect {
		logging.Info("Reconnecting language server", "server", p.config.ID, "root", p.root, "provider", p.id)
		p.teardown()
	}

	if err := p.start(ctx); err != nil {
		p.mu.Lock()
		if p.state != StateDisposed {
			p.state = StateUninitialized
		}
		p.mu.Unlock()
		if errors.Is(err, ErrProviderDisposed) {
			return err
		}
		return &StartError{Server: p.config.DisplayName(), Transport: p.transportMode(), Err: err}
	}
	logging.Info("Language server ready", "server", p.config.ID, "root", p.root, "provider", p.id)
	return nil
}

func (p *Provider) transportMode() registry.TransportMode {
	if p.config.Transport == "" {
		return registry.TransportStdio
	}
	return p.config.Transport
}

func (p *Provider) start(ctx context.Context) error {
	t, err := p.opts.NewTransport(p.config, p.root)
	if err != nil {
		return err
	}

	client := jsonrpc.NewClient(t,
		jsonrpc.WithRequestTimeout(p.opts.RequestTimeout),
		jsonrpc.WithTrace(p.opts.Trace),
		jsonrpc.WithName(p.config.ID),
	)
	unsubscribe := []func(){
		client.OnMessage(func(msg *jsonrpc.Message) { p.handleMessage(client, msg) }),
		t.Subscribe(transport.Handlers{OnClose: func() { p.handleClose(t) }}),
	}
	abort := func() {
		for _, unsub := range unsubscribe {
			unsub()
		}
		client.Dispose()
		_ = t.Disconnect()
	}

	if err := t.Connect(ctx); err != nil {
		abort()
		return err
	}

	p.mu.Lock()
	if p.state == StateDisposed {
		p.mu.Unlock()
		abort()
		return ErrProviderDisposed
	}
	p.transport = t
	p.client = client
	p.unsubscribe = unsubscribe
	p.documents = make(map[protocol.DocumentUri]documentState)
	p.mu.Unlock()

	if err := p.handshake(ctx, client); err != nil {
		p.teardown()
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.state == StateDisposed:
		return ErrProviderDisposed
	case p.transport != t || !t.IsConnected():
		return jsonrpc.ErrConnectionClosed
	}
	p.state = StateReady
	return nil
}

func (p *Provider) handshake(ctx context.Context, client *jsonrpc.Client) error {
	rootURI := protocol.URIFromPath(p.root)
	params := protocol.InitializeParams{
		ProcessID:  os.Getpid(),
		ClientInfo: &protocol.ClientInfo{Name: "opencode-lsp", Version: version.Version},
		RootURI:    rootURI,
		RootPath:   p.root,
		Capabilities: protocol.ClientCapabilities{
			TextDocument: protocol.TextDocumentClientCapabilities{
				Synchronization: protocol.TextDocumentSyncClientCapabilities{DidSave: true},
				PublishDiagnostics: protocol.PublishDiagnosticsClientCapabilities{
					VersionSupport: true,
				},
			},
			Workspace: protocol.WorkspaceClientCapabilities{
				WorkspaceFolders: true,
				Configuration:    true,
			},
			Window: protocol.WindowClientCapabilities{WorkDoneProgress: true},
		},
		WorkspaceFolders: []protocol.WorkspaceFolder{{URI: rootURI, Name: filepath.Base(p.root)}},
	}
	if len(p.config.InitializationOptions) > 0 {
		params.InitializationOptions = p.config.InitializationOptions
	}

	if _, err := client.Request(ctx, protocol.MethodInitialize, params); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if err := client.Notify(protocol.MethodInitialized, protocol.InitializedParams{}); err != nil {
		return fmt.Errorf("initialized: %w", err)
	}
	return nil
}

// Validate syncs content for path to the server and waits for the server to
// publish diagnostics for it. Unchanged content is answered from cache
// without any traffic. When the server stays silent for the diagnostics
// timeout, or the connection closes, the cached diagnostics are returned.
func (p *Provider) Validate(ctx context.Context, path string, content string) ([]Diagnostic, error) {
	uri := protocol.URIFromPath(path)
	hash := xxhash.Sum64String(content)

	p.mu.Lock()
	if !p.connectedLocked() {
		p.mu.Unlock()
		return []Diagnostic{}, nil
	}
	client := p.client
	doc, open := p.documents[uri]
	if open && doc.hash == hash {
		diagnostics := slices.Clone(p.diagnostics[uri])
		p.mu.Unlock()
		return nonNil(diagnostics), nil
	}
	next := documentState{version: 1, hash: hash}
	if open {
		next.version = doc.version + 1
	}
	p.documents[uri] = next
	wait := make(chan struct{})
	p.waiters[uri] = append(p.waiters[uri], wait)
	p.mu.Unlock()

	var err error
	if open {
		err = client.Notify(protocol.MethodDidChange, protocol.DidChangeTextDocumentParams{
			TextDocument:   protocol.VersionedTextDocumentIdentifier{URI: uri, Version: next.version},
			ContentChanges: []protocol.TextDocumentContentChangeEvent{{Text: content}},
		})
	} else {
		err = client.Notify(protocol.MethodDidOpen, protocol.DidOpenTextDocumentParams{
			TextDocument: protocol.TextDocumentItem{
				URI:        uri,
				LanguageID: protocol.LanguageKind(languageIDFor(p.config, path)),
				Version:    next.version,
				Text:       content,
			},
		})
	}
	if err != nil {
		p.mu.Lock()
		p.removeWaiterLocked(uri, wait)
		if open {
			p.documents[uri] = doc
		} else {
			delete(p.documents, uri)
		}
		p.mu.Unlock()
		return nil, err
	}

	timer := time.NewTimer(p.opts.DiagnosticsTimeout)
	defer timer.Stop()
	select {
	case <-wait:
	case <-timer.C:
		logging.Debug("Timed out waiting for diagnostics", "server", p.config.ID, "uri", uri)
		p.dropWaiter(uri, wait)
	case <-ctx.Done():
		p.dropWaiter(uri, wait)
	}
	return p.cachedDiagnostics(uri), nil
}

// Diagnostics returns the last diagnostics published for path.
func (p *Provider) Diagnostics(path string) []Diagnostic {
	return p.cachedDiagnostics(protocol.URIFromPath(path))
}

func (p *Provider) cachedDiagnostics(uri protocol.DocumentUri) []Diagnostic {
	p.mu.Lock()
	defer p.mu.Unlock()
	return nonNil(slices.Clone(p.diagnostics[uri]))
}

func nonNil(d []Diagnostic) []Diagnostic {
	if d == nil {
		return []Diagnostic{}
	}
	return d
}

func (p *Provider) dropWaiter(uri protocol.DocumentUri, wait chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeWaiterLocked(uri, wait)
}

func (p *Provider) removeWaiterLocked(uri protocol.DocumentUri, wait chan struct{}) {
	waiters := slices.DeleteFunc(p.waiters[uri], func(w chan struct{}) bool { return w == wait })
	if len(waiters) == 0 {
		delete(p.waiters, uri)
		return
	}
	p.waiters[uri] = waiters
}

// releaseWaitersLocked removes every waiter and returns them for closing
// outside the lock.
func (p *Provider) releaseWaitersLocked() []chan struct{} {
	var all []chan struct{}
	for _, ws := range p.waiters {
		all = append(all, ws...)
	}
	p.waiters = make(map[protocol.DocumentUri][]chan struct{})
	return all
}

func (p *Provider) handleMessage(client *jsonrpc.Client, msg *jsonrpc.Message) {
	switch {
	case msg.Method == protocol.MethodPublishDiagnostics:
		var params protocol.PublishDiagnosticsParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			logging.Debug("Malformed publishDiagnostics", "server", p.config.ID, "error", err)
			return
		}
		p.publishDiagnostics(params)
	case msg.IsRequest():
		go func() {
			defer logging.RecoverPanic("lsp-server-request", nil)
			p.answer(client, msg)
		}()
	case msg.Method == protocol.MethodLogMessage || msg.Method == protocol.MethodShowMessage:
		var params struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(msg.Params, &params)
		logging.Debug("Language server message", "server", p.config.ID, "message", params.Message)
	}
}

func (p *Provider) publishDiagnostics(params protocol.PublishDiagnosticsParams) {
	path, err := params.URI.ParsePath()
	if err != nil {
		logging.Debug("Dropping diagnostics for malformed uri", "server", p.config.ID, "error", err)
		return
	}
	uri := protocol.URIFromPath(path)
	diagnostics := convertDiagnostics(params.Diagnostics)

	p.mu.Lock()
	p.diagnostics[uri] = diagnostics
	waiters := p.waiters[uri]
	delete(p.waiters, uri)
	p.mu.Unlock()

	logging.Debug("Diagnostics published", "server", p.config.ID, "uri", uri, "count", len(diagnostics))
	for _, w := range waiters {
		close(w)
	}
}

// answer replies to the server requests a diagnostics-only client sees.
func (p *Provider) answer(client *jsonrpc.Client, msg *jsonrpc.Message) {
	var (
		result any
		rpcErr *jsonrpc.Error
	)
	switch msg.Method {
	case protocol.MethodWorkspaceConfiguration:
		var params protocol.ConfigurationParams
		_ = json.Unmarshal(msg.Params, &params)
		items := make([]any, len(params.Items))
		for i, item := range params.Items {
			items[i] = lookupSection(p.config.InitializationOptions, item.Section)
		}
		result = items
	case protocol.MethodRegisterCapability,
		protocol.MethodUnregisterCapability,
		protocol.MethodWorkDoneProgressCreate:
		result = nil
	case protocol.MethodWorkspaceFoldersRequest:
		result = []protocol.WorkspaceFolder{{URI: protocol.URIFromPath(p.root), Name: filepath.Base(p.root)}}
	default:
		rpcErr = &jsonrpc.Error{Code: jsonrpc.CodeMethodNotFound, Message: "method not supported: " + msg.Method}
	}
	if err := client.Respond(msg.ID, result, rpcErr); err != nil {
		logging.Debug("Failed to answer server request", "server", p.config.ID, "method", msg.Method, "error", err)
	}
}

// lookupSection resolves a dotted configuration section in opts.
func lookupSection(opts map[string]any, section string) any {
	if section == "" {
		if len(opts) == 0 {
			return nil
		}
		return opts
	}
	var current any = opts
	for _, part := range strings.Split(section, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		if current, ok = m[part]; !ok {
			return nil
		}
	}
	return current
}

func (p *Provider) handleClose(t transport.Transport) {
	p.mu.Lock()
	if p.transport != t || p.state == StateDisposed {
		p.mu.Unlock()
		return
	}
	if p.state == StateReady {
		p.state = StateDisconnected
	}
	waiters := p.releaseWaitersLocked()
	p.mu.Unlock()

	logging.Info("Language server disconnected", "server", p.config.ID, "root", p.root, "provider", p.id)
	for _, w := range waiters {
		close(w)
	}
}

// teardown drops the client and transport. It must not be called with p.mu
// held: disconnecting waits for the close event, whose handler takes p.mu.
func (p *Provider) teardown() {
	p.mu.Lock()
	client, t, unsubscribe := p.client, p.transport, p.unsubscribe
	p.client, p.transport, p.unsubscribe = nil, nil, nil
	p.documents = make(map[protocol.DocumentUri]documentState)
	p.mu.Unlock()

	for _, unsub := range unsubscribe {
		unsub()
	}
	if client != nil {
		client.Dispose()
	}
	if t != nil {
		if err := t.Disconnect(); err != nil {
			logging.Debug("Disconnect failed", "server", p.config.ID, "error", err)
		}
	}
}

// Dispose shuts the server down politely, then tears down the connection
// and clears all cached state. Errors are swallowed: the process may already
// be gone.
func (p *Provider) Dispose(ctx context.Context) {
	p.mu.Lock()
	if p.state == StateDisposed {
		p.mu.Unlock()
		return
	}
	connected := p.connectedLocked()
	client := p.client
	p.state = StateDisposed
	waiters := p.releaseWaitersLocked()
	p.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}

	if connected && client != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		if _, err := client.Request(shutdownCtx, protocol.MethodShutdown, nil); err != nil {
			logging.Debug("Shutdown request failed", "server", p.config.ID, "error", err)
		}
		cancel()
		_ = client.Notify(protocol.MethodExit, nil)
	}

	p.teardown()

	p.mu.Lock()
	p.diagnostics = make(map[protocol.DocumentUri][]Diagnostic)
	p.mu.Unlock()
	logging.Debug("Language server disposed", "server", p.config.ID, "root", p.root, "provider", p.id)
}
