package proxy

import (
	"github.com/sourcegraph/go-langserver/pkg/lsp"

	"github.com/venvmux/venvmux/internal/backend"
	"github.com/venvmux/venvmux/internal/pool"
	"github.com/venvmux/venvmux/internal/rpcmsg"
)

// handleBackendMessage routes one message arriving from a backend's
// reader task, discarding anything tagged with a session that is no
// longer current for its venv (the backend was already evicted or
// replaced) (spec.md §4.11, §4.12).
func (p *Proxy) handleBackendMessage(bm pool.Message) {
	inst, ok := p.pool.Get(bm.Venv)
	if !ok || inst.Session != bm.Session {
		return
	}

	if bm.Err != nil {
		p.handleCrash(bm.Venv, bm.Session)
		return
	}

	msg := bm.Msg
	switch {
	case msg.IsRequest():
		proxyID := p.idAlloc.Alloc()
		p.pendingB2C[proxyID] = pendingBackendToClient{OriginalID: *msg.ID, Venv: bm.Venv, Session: bm.Session}
		out := msg.Clone()
		out.ID = &proxyID
		if err := p.clientWriter.Write(out); err != nil {
			p.logger.Error("failed to forward backend request to client", "venv", bm.Venv, "err", err)
		}

	case msg.IsResponse():
		if msg.ID == nil {
			return
		}
		pending, ok := p.pendingC2B[*msg.ID]
		if !ok || pending.Venv != bm.Venv || pending.Session != bm.Session {
			p.logger.Warn("discarding stale backend response", "venv", bm.Venv, "id", msg.ID.String())
			return
		}
		delete(p.pendingC2B, *msg.ID)
		if err := p.clientWriter.Write(msg); err != nil {
			p.logger.Error("failed to forward backend response to client", "venv", bm.Venv, "err", err)
		}

	case msg.IsNotification():
		if err := p.clientWriter.Write(msg); err != nil {
			p.logger.Error("failed to forward backend notification to client", "venv", bm.Venv, "err", err)
		}
	}
}

// handleCrash removes a dead backend from the pool and cancels
// everything pending against it. No shutdown sequence is attempted:
// the process that produced the read error is already gone (spec.md
// §4.11).
func (p *Proxy) handleCrash(venv string, session uint64) {
	inst, ok := p.pool.Get(venv)
	if !ok || inst.Session != session {
		return
	}
	p.pool.Remove(venv)
	p.metrics.IncBackendCrashed()
	p.metrics.SetPoolOccupancy(p.pool.Len())
	p.metrics.DeleteWarmupQueueDepth(venv)

	p.logger.Warn("backend crashed", "venv", venv, "session", session)
	p.awaitReaderExit(venv, session, inst.ReaderDone)
	p.cancelPendingForSession(venv, session)
	p.clearDiagnosticsForVenv(venv)
}

// awaitReaderExit waits in the background for a removed instance's
// reader task to stop and logs at debug level when it has. Never blocks
// the caller: the wait happens in its own goroutine, and a new backend
// for the same venv may be created before it finishes (spec.md §4.5,
// §4.11).
func (p *Proxy) awaitReaderExit(venv string, session uint64, done <-chan struct{}) {
	if done == nil {
		return
	}
	go func() {
		<-done
		p.logger.Debug("backend reader task exited", "venv", venv, "session", session)
	}()
}

// evictLRU removes the least-recently-used backend with no pending
// requests (falling back to the global LRU if every backend has
// pending work), cancels anything pending against it, clears its
// diagnostics, and shuts it down gracefully in the background (spec.md
// §4.5, §4.11).
func (p *Proxy) evictLRU() error {
	venv, ok := p.pool.LRU(p.pendingCountForSession)
	if !ok {
		return nil
	}
	inst, ok := p.pool.Remove(venv)
	if !ok {
		return nil
	}
	p.metrics.IncBackendEvicted()
	p.metrics.SetPoolOccupancy(p.pool.Len())
	p.metrics.DeleteWarmupQueueDepth(venv)

	p.logger.Info("evicting backend", "venv", venv, "session", inst.Session)
	p.awaitReaderExit(venv, inst.Session, inst.ReaderDone)
	p.cancelPendingForSession(venv, inst.Session)
	p.clearDiagnosticsForVenv(venv)
	backend.FireAndForgetShutdown(inst.Writer, inst.Cmd, inst.NextID, venv)
	return nil
}

// sweepExpiredBackends evicts every backend whose TTL has elapsed and
// that currently has no pending request in either direction (spec.md
// §4.11).
func (p *Proxy) sweepExpiredBackends() {
	for _, venv := range p.pool.Expired() {
		inst, ok := p.pool.Get(venv)
		if !ok {
			continue
		}
		if p.pendingCountForSession(venv, inst.Session) != 0 || p.pendingBackendCountForSession(venv, inst.Session) != 0 {
			continue
		}
		p.pool.Remove(venv)
		p.metrics.IncBackendEvicted()
		p.metrics.SetPoolOccupancy(p.pool.Len())
		p.metrics.DeleteWarmupQueueDepth(venv)

		p.logger.Info("evicting idle backend past TTL", "venv", venv, "session", inst.Session)
		p.awaitReaderExit(venv, inst.Session, inst.ReaderDone)
		p.cancelPendingForSession(venv, inst.Session)
		p.clearDiagnosticsForVenv(venv)
		backend.FireAndForgetShutdown(inst.Writer, inst.Cmd, inst.NextID, venv)
	}
}

// cancelPendingForSession responds to every client request pending
// against (venv, session) with a request-cancelled error, and drops
// every server-initiated request the proxy was waiting on a client
// response for (spec.md §4.11).
func (p *Proxy) cancelPendingForSession(venv string, session uint64) {
	for id, pending := range p.pendingC2B {
		if pending.Venv != venv || pending.Session != session {
			continue
		}
		delete(p.pendingC2B, id)
		resp := rpcmsg.NewCancelledResponse(id, "venvmux: backend unavailable")
		if err := p.clientWriter.Write(resp); err != nil {
			p.logger.Warn("failed to send cancellation response to client", "venv", venv, "err", err)
		}
	}
	for id, pending := range p.pendingB2C {
		if pending.Venv != venv || pending.Session != session {
			continue
		}
		delete(p.pendingB2C, id)
	}
}

// clearDiagnosticsForVenv publishes an empty diagnostics set for every
// document the proxy knows was open under venv, so the editor does not
// keep showing stale diagnostics for a backend that is gone (spec.md
// §4.11).
func (p *Proxy) clearDiagnosticsForVenv(venv string) {
	for _, uri := range p.docs.URIsUnderVenv(venv) {
		notif, err := rpcmsg.NewNotification("textDocument/publishDiagnostics", lsp.PublishDiagnosticsParams{
			URI:         lsp.DocumentURI(uri),
			Diagnostics: []lsp.Diagnostic{},
		})
		if err != nil {
			continue
		}
		if werr := p.clientWriter.Write(notif); werr != nil {
			p.logger.Warn("failed to clear diagnostics", "uri", uri, "err", werr)
		}
	}
}

func (p *Proxy) pendingCountForSession(venv string, session uint64) int {
	n := 0
	for _, pending := range p.pendingC2B {
		if pending.Venv == venv && pending.Session == session {
			n++
		}
	}
	return n
}

func (p *Proxy) pendingBackendCountForSession(venv string, session uint64) int {
	n := 0
	for _, pending := range p.pendingB2C {
		if pending.Venv == venv && pending.Session == session {
			n++
		}
	}
	return n
}
