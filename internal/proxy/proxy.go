// Package proxy is the event loop at the center of the multiplexer: one
// goroutine owns every mutable structure (pool, document cache, pending
// tables) and reacts to exactly four suspension points — a client read, a
// backend-inbox read, a backend write, and the TTL timer (spec.md §5).
// Grounded on original_source/src/proxy/mod.rs's tokio::select! loop,
// translated from async/await to goroutine+channel select.
package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/venvmux/venvmux/internal/backend"
	"github.com/venvmux/venvmux/internal/document"
	"github.com/venvmux/venvmux/internal/framing"
	"github.com/venvmux/venvmux/internal/metrics"
	"github.com/venvmux/venvmux/internal/pool"
	"github.com/venvmux/venvmux/internal/rpcmsg"
	"github.com/venvmux/venvmux/internal/venvresolve"
)

// ttlSweepInterval is the fixed TTL-sweep cadence (spec.md §4.11).
const ttlSweepInterval = 60 * time.Second

// initializeDeadline bounds the initialize handshake with a backend
// (spec.md §4.10).
const initializeDeadline = 10 * time.Second

// venvCheckMethods is the set of index-dependent requests that must
// resolve (and, if necessary, spawn) a backend before routing (spec.md
// §4.8).
var venvCheckMethods = map[string]bool{
	"textDocument/hover":          true,
	"textDocument/definition":     true,
	"textDocument/references":     true,
	"textDocument/documentSymbol": true,
	"textDocument/typeDefinition": true,
	"textDocument/implementation": true,
}

// warmupQueueMethods is the narrower set that gets deferred to a
// Warming backend's FIFO instead of being sent immediately (spec.md
// §4.8).
var warmupQueueMethods = map[string]bool{
	"textDocument/definition":     true,
	"textDocument/references":     true,
	"textDocument/implementation": true,
	"textDocument/typeDefinition": true,
}

// Config is the proxy's enumerated configuration surface (spec.md §6,
// §9).
type Config struct {
	MaxBackends    int
	BackendTTL     time.Duration // zero disables TTL eviction
	BackendKind    backend.Kind
	WarmupTimeout  time.Duration // zero disables warmup queueing; backends start Ready
}

type pendingClientToBackend struct {
	Venv    string
	Session uint64
}

type pendingBackendToClient struct {
	OriginalID rpcmsg.ID
	Venv       string
	Session    uint64
}

// Proxy is the single-mutator event loop state (spec.md §3, §5).
type Proxy struct {
	cfg Config

	clientReader *framing.Stream
	clientWriter *framing.Stream

	resolver *venvresolve.Resolver
	repoRoot string

	docs *document.Cache
	pool *pool.Pool

	clientInitialize *rpcmsg.Message
	idAlloc          *rpcmsg.ProxyIDAllocator

	pendingC2B map[rpcmsg.ID]pendingClientToBackend
	pendingB2C map[rpcmsg.ID]pendingBackendToClient

	pendingInitialBackend *backend.Handle
	pendingInitialVenv    string

	logger  *slog.Logger
	metrics *metrics.Registry
}

// New constructs a Proxy. repoRoot is the cached source-control root
// (possibly empty); resolver performs per-document venv lookups.
func New(cfg Config, clientReader, clientWriter *framing.Stream, resolver *venvresolve.Resolver, repoRoot string, logger *slog.Logger, reg *metrics.Registry) *Proxy {
	return &Proxy{
		cfg:          cfg,
		clientReader: clientReader,
		clientWriter: clientWriter,
		resolver:     resolver,
		repoRoot:     repoRoot,
		docs:         document.New(),
		pool:         pool.New(cfg.MaxBackends, cfg.BackendTTL),
		idAlloc:      rpcmsg.NewProxyIDAllocator(),
		pendingC2B:   make(map[rpcmsg.ID]pendingClientToBackend),
		pendingB2C:   make(map[rpcmsg.ID]pendingBackendToClient),
		logger:       logger,
		metrics:      reg,
	}
}

// SetPendingInitialBackend registers a backend pre-spawned at startup
// against a fallback venv (found before the client's first `initialize`
// arrives). It is consumed the moment `initialize` is handled.
func (p *Proxy) SetPendingInitialBackend(h *backend.Handle, venv string) {
	p.pendingInitialBackend = h
	p.pendingInitialVenv = venv
}

type clientRead struct {
	msg *rpcmsg.Message
	err error
}

// Run drives the event loop until the client sends `exit`, a client
// transport error occurs, or ctx is cancelled.
func (p *Proxy) Run(ctx context.Context) error {
	clientCh := make(chan clientRead)
	go func() {
		for {
			var m rpcmsg.Message
			err := p.clientReader.ReadInto(&m)
			select {
			case clientCh <- clientRead{msg: &m, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(ttlSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case cr := <-clientCh:
			if cr.err != nil {
				return cr.err
			}
			done, err := p.handleClientMessage(ctx, cr.msg)
			if err != nil {
				return err
			}
			if done {
				return nil
			}

		case bm := <-p.pool.Inbox():
			p.handleBackendMessage(bm)

		case <-ticker.C:
			p.sweepExpiredBackends()
			p.drainReadyWarmups()

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// handleClientMessage implements the ordered match of spec.md §4.7; done
// reports whether the event loop should terminate (the `exit`
// notification).
func (p *Proxy) handleClientMessage(ctx context.Context, msg *rpcmsg.Message) (bool, error) {
	switch {
	case msg.Method == "initialize" && msg.IsRequest():
		return false, p.handleInitialize(ctx, msg)

	case msg.Method == "initialized" && msg.IsNotification():
		p.forwardToAllBackends(msg)
		return false, nil

	case msg.Method == "shutdown" && msg.IsRequest():
		return false, p.handleShutdown(msg)

	case msg.Method == "exit" && msg.IsNotification():
		p.logger.Info("exit notification received, terminating")
		return true, nil

	case msg.IsResponse():
		p.handleClientResponse(msg)
		return false, nil

	case msg.Method == "textDocument/didOpen" && msg.IsNotification():
		return false, p.handleDidOpen(ctx, msg)

	case msg.Method == "textDocument/didChange" && msg.IsNotification():
		return false, p.handleDidChange(msg)

	case msg.Method == "textDocument/didClose" && msg.IsNotification():
		return false, p.handleDidClose(msg)

	case msg.Method == "$/cancelRequest" && msg.IsNotification():
		p.handleCancelRequest(msg)
		return false, nil

	case msg.IsRequest():
		return false, p.dispatchGenericRequest(ctx, msg)

	case msg.IsNotification():
		p.forwardToAllBackends(msg)
		return false, nil
	}

	return false, nil
}

func (p *Proxy) writeError(req *rpcmsg.Message, message string) error {
	return p.clientWriter.Write(rpcmsg.NewErrorResponse(req, message))
}

func (p *Proxy) forwardToAllBackends(msg *rpcmsg.Message) {
	for _, venv := range p.pool.Keys() {
		inst, ok := p.pool.Get(venv)
		if !ok {
			continue
		}
		if err := inst.Writer.Write(msg); err != nil {
			p.logger.Warn("failed to forward message to backend", "venv", venv, "method", msg.Method, "err", err)
		}
	}
}

func venvParentDir(venv string) string {
	if venv == "" {
		return ""
	}
	return filepath.Dir(venv)
}

func backendErrorMessage(venv string, err error) string {
	return fmt.Sprintf("venvmux: failed to start LSP backend for %s: %v", venv, err)
}
