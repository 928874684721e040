package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opencode-ai/opencode-lsp/internal/lsp/jsonrpc"
	"github.com/opencode-ai/opencode-lsp/internal/lsp/protocol"
	"github.com/opencode-ai/opencode-lsp/internal/lsp/registry"
	"github.com/opencode-ai/opencode-lsp/internal/lsp/transport"
	mock_transport "github.com/opencode-ai/opencode-lsp/internal/lsp/transport/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func startedProvider(t *testing.T, react func(*fakeServer, *jsonrpc.Message), tweak ...func(*ProviderOptions)) (*Provider, *factoryFor) {
	t.Helper()
	ff := &factoryFor{newServer: func() *fakeServer { return newFakeServer(react) }}
	opts := testProviderOptions(ff)
	for _, fn := range tweak {
		fn(&opts)
	}
	p := NewProvider(fakeConfig("fake", ".fk"), t.TempDir(), opts)
	require.NoError(t, p.Initialize(context.Background()))
	t.Cleanup(func() { p.Dispose(context.Background()) })
	return p, ff
}

func TestProvider_InitializeHandshake(t *testing.T) {
	p, ff := startedProvider(t, nil)
	srv := ff.server(t, 0)

	assert.True(t, p.IsConnected())
	assert.Equal(t, StateReady, p.State())
	assert.NotEmpty(t, p.ID())
	assert.Equal(t, Key{ServerID: "fake", Root: p.Root()}, p.Key())

	init := srv.last(protocol.MethodInitialize)
	require.NotNil(t, init)
	var params protocol.InitializeParams
	require.NoError(t, json.Unmarshal(init.Params, &params))
	assert.Equal(t, protocol.URIFromPath(p.Root()), params.RootURI)
	assert.Equal(t, "opencode-lsp", params.ClientInfo.Name)
	assert.Nil(t, params.InitializationOptions)
	assert.Equal(t, 1, srv.count(protocol.MethodInitialized))

	require.NoError(t, p.Initialize(context.Background()))
	assert.Len(t, ff.servers, 1, "initialize on a live provider is a no-op")
}

func TestProvider_ValidateIsIdempotentForSameContent(t *testing.T) {
	p, ff := startedProvider(t, publishOnSync(diagnosticAt(1, protocol.SeverityWarning, "unused")))
	srv := ff.server(t, 0)
	path := filepath.Join(p.Root(), "main.fk")

	first, err := p.Validate(context.Background(), path, "let x = 1")
	require.NoError(t, err)
	second, err := p.Validate(context.Background(), path, "let x = 1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, srv.count(protocol.MethodDidOpen))
	assert.Zero(t, srv.count(protocol.MethodDidChange))

	_, err = p.Validate(context.Background(), path, "let x = 2")
	require.NoError(t, err)
	change := srv.last(protocol.MethodDidChange)
	require.NotNil(t, change)
	var params protocol.DidChangeTextDocumentParams
	require.NoError(t, json.Unmarshal(change.Params, &params))
	assert.Equal(t, int32(2), params.TextDocument.Version)
	require.Len(t, params.ContentChanges, 1)
	assert.Equal(t, "let x = 2", params.ContentChanges[0].Text)
}

func TestProvider_DiagnosticConversion(t *testing.T) {
	diag := diagnosticAt(4, protocol.SeverityError, "undefined: foo")
	diag.Code = 42
	diag.Tags = []protocol.DiagnosticTag{protocol.Deprecated}
	p, _ := startedProvider(t, publishOnSync(diag))

	got, err := p.Validate(context.Background(), filepath.Join(p.Root(), "a.fk"), "foo()")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, Diagnostic{
		Message:   "undefined: foo",
		Line:      4,
		Character: 2,
		Severity:  SeverityError,
		Source:    "fake",
		Code:      "42",
		Tags:      []string{"deprecated"},
	}, got[0])
	assert.Equal(t, got, p.Diagnostics(filepath.Join(p.Root(), "a.fk")))
}

func TestProvider_DidOpenUsesLanguageID(t *testing.T) {
	ff := &factoryFor{newServer: func() *fakeServer { return newFakeServer(publishOnSync()) }}
	cfg := fakeConfig("fake", ".fk")
	cfg.LanguageIDs = map[string]string{".fk": "fakelang"}
	p := NewProvider(cfg, t.TempDir(), testProviderOptions(ff))
	require.NoError(t, p.Initialize(context.Background()))
	defer p.Dispose(context.Background())

	_, err := p.Validate(context.Background(), filepath.Join(p.Root(), "x.fk"), "")
	require.NoError(t, err)

	open := ff.server(t, 0).last(protocol.MethodDidOpen)
	require.NotNil(t, open)
	var params protocol.DidOpenTextDocumentParams
	require.NoError(t, json.Unmarshal(open.Params, &params))
	assert.Equal(t, protocol.LanguageKind("fakelang"), params.TextDocument.LanguageID)
	assert.Equal(t, int32(1), params.TextDocument.Version)
}

func TestProvider_ValidateTimesOutWithCachedDiagnostics(t *testing.T) {
	p, _ := startedProvider(t, nil, func(o *ProviderOptions) {
		o.DiagnosticsTimeout = 50 * time.Millisecond
	})

	start := time.Now()
	got, err := p.Validate(context.Background(), filepath.Join(p.Root(), "slow.fk"), "x")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
	assert.Less(t, time.Since(start), time.Second)
}

func TestProvider_ValidateWhenNotConnected(t *testing.T) {
	ff := &factoryFor{newServer: func() *fakeServer { return newFakeServer(nil) }}
	p := NewProvider(fakeConfig("fake", ".fk"), t.TempDir(), testProviderOptions(ff))

	got, err := p.Validate(context.Background(), filepath.Join(p.Root(), "a.fk"), "x")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, ff.servers)
}

func TestProvider_CloseReleasesPendingValidations(t *testing.T) {
	p, ff := startedProvider(t, nil)
	srv := ff.server(t, 0)

	var wg sync.WaitGroup
	results := make([][]Diagnostic, 2)
	errs := make([]error, 2)
	for i, name := range []string{"a.fk", "b.fk"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = p.Validate(context.Background(), filepath.Join(p.Root(), name), "x")
		}()
	}
	require.Eventually(t, func() bool {
		return srv.count(protocol.MethodDidOpen) == 2
	}, time.Second, 5*time.Millisecond)

	srv.close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("validations still pending after close")
	}

	for i := range results {
		require.NoError(t, errs[i])
		assert.Empty(t, results[i])
	}
	assert.False(t, p.IsConnected())
	assert.Equal(t, StateDisconnected, p.State())
}

func TestProvider_ReconnectAfterClose(t *testing.T) {
	p, ff := startedProvider(t, publishOnSync())
	ff.server(t, 0).close()
	require.False(t, p.IsConnected())

	require.NoError(t, p.Initialize(context.Background()))
	assert.True(t, p.IsConnected())
	require.Len(t, ff.servers, 2)

	_, err := p.Validate(context.Background(), filepath.Join(p.Root(), "a.fk"), "x")
	require.NoError(t, err)
	assert.Equal(t, 1, ff.server(t, 1).count(protocol.MethodDidOpen), "documents are reopened on the new connection")
}

func TestProvider_AnswersServerRequests(t *testing.T) {
	ff := &factoryFor{newServer: func() *fakeServer { return newFakeServer(nil) }}
	cfg := fakeConfig("fake", ".fk")
	cfg.InitializationOptions = map[string]any{"fake": map[string]any{"strict": true}}
	p := NewProvider(cfg, t.TempDir(), testProviderOptions(ff))
	require.NoError(t, p.Initialize(context.Background()))
	defer p.Dispose(context.Background())
	srv := ff.server(t, 0)

	srv.deliver(map[string]any{
		"jsonrpc": "2.0",
		"id":      7,
		"method":  protocol.MethodWorkspaceConfiguration,
		"params": protocol.ConfigurationParams{Items: []protocol.ConfigurationItem{
			{Section: "fake.strict"},
			{Section: "missing"},
		}},
	})
	srv.deliver(map[string]any{"jsonrpc": "2.0", "id": 8, "method": protocol.MethodRegisterCapability, "params": map[string]any{}})
	srv.deliver(map[string]any{"jsonrpc": "2.0", "id": 9, "method": "custom/unknown"})

	require.Eventually(t, func() bool {
		return srv.response("7") != nil && srv.response("8") != nil && srv.response("9") != nil
	}, time.Second, 5*time.Millisecond)

	assert.JSONEq(t, `[true, null]`, string(srv.response("7").Result))
	assert.Nil(t, srv.response("8").Error)
	require.NotNil(t, srv.response("9").Error)
	assert.Equal(t, int64(jsonrpc.CodeMethodNotFound), srv.response("9").Error.Code)
}

func TestProvider_Dispose(t *testing.T) {
	p, ff := startedProvider(t, publishOnSync(diagnosticAt(0, protocol.SeverityHint, "hint")))
	path := filepath.Join(p.Root(), "a.fk")
	_, err := p.Validate(context.Background(), path, "x")
	require.NoError(t, err)

	p.Dispose(context.Background())
	srv := ff.server(t, 0)

	assert.Equal(t, 1, srv.count(protocol.MethodShutdown))
	assert.Equal(t, 1, srv.count(protocol.MethodExit))
	assert.False(t, srv.IsConnected())
	assert.Equal(t, StateDisposed, p.State())
	assert.Empty(t, p.Diagnostics(path))
	assert.ErrorIs(t, p.Initialize(context.Background()), ErrProviderDisposed)

	p.Dispose(context.Background())
	assert.Equal(t, 1, srv.count(protocol.MethodShutdown))
}

func TestProvider_InitializeConnectFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	mt := mock_transport.NewMockTransport(ctrl)
	boom := errors.New("boom")

	mt.EXPECT().Subscribe(gomock.Any()).Return(func() {}).Times(2)
	mt.EXPECT().Connect(gomock.Any()).Return(boom)
	mt.EXPECT().Disconnect().Return(nil)
	mt.EXPECT().IsConnected().Return(false).AnyTimes()

	opts := ProviderOptions{NewTransport: func(registry.LanguageServerConfig, string) (transport.Transport, error) {
		return mt, nil
	}}
	p := NewProvider(fakeConfig("fake", ".fk"), t.TempDir(), opts)

	err := p.Initialize(context.Background())
	var startErr *StartError
	require.ErrorAs(t, err, &startErr)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "fake server", startErr.Server)
	assert.Equal(t, registry.TransportStdio, startErr.Transport)
	assert.Equal(t, StateUninitialized, p.State())
	assert.False(t, p.IsConnected())
}

func TestProvider_TransportFactoryFailure(t *testing.T) {
	cfg := fakeConfig("remote", ".rm")
	cfg.Transport = registry.TransportTCP
	cfg.Command = ""
	p := NewProvider(cfg, t.TempDir(), ProviderOptions{})

	err := p.Initialize(context.Background())
	var startErr *StartError
	require.ErrorAs(t, err, &startErr)
	assert.Equal(t, registry.TransportTCP, startErr.Transport)
	assert.Contains(t, err.Error(), "host and port")
}

func TestLookupSection(t *testing.T) {
	opts := map[string]any{"a": map[string]any{"b": map[string]any{"c": 1}}}
	assert.Equal(t, 1, lookupSection(opts, "a.b.c"))
	assert.Equal(t, map[string]any{"c": 1}, lookupSection(opts, "a.b"))
	assert.Nil(t, lookupSection(opts, "a.x"))
	assert.Nil(t, lookupSection(opts, "a.b.c.d"))
	assert.Equal(t, opts, lookupSection(opts, ""))
	assert.Nil(t, lookupSection(nil, ""))
}

func TestProvider_DropsPublishWithMalformedURI(t *testing.T) {
	p, _ := startedProvider(t, func(f *fakeServer, msg *jsonrpc.Message) {
		if msg.Method != protocol.MethodDidOpen {
			return
		}
		f.publish(protocol.DocumentUri("file:///bad%zz.fk"), diagnosticAt(0, protocol.SeverityError, "lost"))
		f.publish(documentURI(msg), diagnosticAt(3, protocol.SeverityError, "kept"))
	})
	path := filepath.Join(p.Root(), "main.fk")

	diags, err := p.Validate(context.Background(), path, "x")
	require.NoError(t, err)
	require.Len(t, diags, 1)
	assert.Equal(t, "kept", diags[0].Message)
	assert.True(t, p.IsConnected())
}
