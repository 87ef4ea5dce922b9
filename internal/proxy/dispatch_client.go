package proxy

import (
	"context"
	"encoding/json"

	"github.com/sourcegraph/go-langserver/pkg/lsp"

	"github.com/venvmux/venvmux/internal/backend"
	"github.com/venvmux/venvmux/internal/document"
	"github.com/venvmux/venvmux/internal/errs"
	"github.com/venvmux/venvmux/internal/pool"
	"github.com/venvmux/venvmux/internal/rpcmsg"
	"github.com/venvmux/venvmux/internal/textedit"
)

// handleInitialize implements spec.md §4.7 case 1.
func (p *Proxy) handleInitialize(ctx context.Context, msg *rpcmsg.Message) error {
	p.logger.Info("caching initialize message for backend initialization")
	p.clientInitialize = msg.Clone()

	h := p.pendingInitialBackend
	venv := p.pendingInitialVenv
	p.pendingInitialBackend = nil
	p.pendingInitialVenv = ""

	if h == nil {
		p.logger.Warn("no fallback backend pre-spawned: returning minimal initialize response")
		return p.writeMinimalInitializeResponse(msg)
	}

	resp, err := initializeHandshake(h, p.clientInitialize)
	if err != nil {
		p.logger.Error("failed to initialize fallback backend, returning minimal response", "venv", venv, "err", err)
		return p.writeMinimalInitializeResponse(msg)
	}

	session := p.pool.NextSession()
	docs := p.docs.ForReplay(venv, venvParentDir(venv))
	if rerr := document.Replay(docs, func(d *document.Open) error { return sendDidOpen(h, d) }); rerr != nil {
		p.logger.Warn("partial failure replaying documents to fallback backend", "venv", venv, "err", rerr)
	}

	parts := h.Split()
	inst := p.newInstance(venv, session, parts)
	inst.ReaderDone = pool.SpawnReaderTask(parts.Reader, p.pool.Sender(), venv, session)
	p.pool.Insert(venv, inst)
	p.metrics.IncBackendSpawned()
	p.metrics.SetPoolOccupancy(p.pool.Len())

	out := resp.Clone()
	out.ID = msg.ID
	p.logger.Info("fallback backend inserted into pool", "venv", venv, "session", session)
	return p.clientWriter.Write(out)
}

func (p *Proxy) writeMinimalInitializeResponse(msg *rpcmsg.Message) error {
	resp, err := rpcmsg.NewResultResponse(*msg.ID, map[string]interface{}{"capabilities": map[string]interface{}{}})
	if err != nil {
		return err
	}
	return p.clientWriter.Write(resp)
}

// handleShutdown implements spec.md §4.7 case 3.
func (p *Proxy) handleShutdown(msg *rpcmsg.Message) error {
	p.logger.Info("shutdown request received from client")
	for _, venv := range p.pool.Keys() {
		inst, ok := p.pool.Remove(venv)
		if !ok {
			continue
		}
		backend.FireAndForgetShutdown(inst.Writer, inst.Cmd, inst.NextID, venv)
	}
	p.metrics.SetPoolOccupancy(p.pool.Len())

	resp, err := rpcmsg.NewResultResponse(*msg.ID, nil)
	if err != nil {
		return err
	}
	return p.clientWriter.Write(resp)
}

// handleClientResponse implements spec.md §4.7 case 5: a client response
// to a server-initiated request a backend previously emitted.
func (p *Proxy) handleClientResponse(msg *rpcmsg.Message) {
	if msg.ID == nil {
		return
	}
	pending, ok := p.pendingB2C[*msg.ID]
	if !ok {
		return
	}
	delete(p.pendingB2C, *msg.ID)

	out := msg.Clone()
	out.ID = &pending.OriginalID

	inst, ok := p.pool.Get(pending.Venv)
	if !ok || inst.Session != pending.Session {
		p.logger.Warn("discarding client response: backend no longer current", "venv", pending.Venv, "session", pending.Session)
		return
	}
	if err := inst.Writer.Write(out); err != nil {
		p.logger.Warn("failed to forward client response to backend", "venv", pending.Venv, "err", err)
	}
}

// textDocumentIdentifierParams captures just the URI every request and
// notification carries via its textDocument field (spec.md §4.8),
// wrapping the same lsp.TextDocumentIdentifier the teacher's pack
// depends on rather than a hand-rolled shape.
type textDocumentIdentifierParams struct {
	TextDocument lsp.TextDocumentIdentifier `json:"textDocument"`
}

func extractURI(msg *rpcmsg.Message) (string, bool) {
	if msg.Params == nil {
		return "", false
	}
	var p textDocumentIdentifierParams
	if err := json.Unmarshal(*msg.Params, &p); err != nil || p.TextDocument.URI == "" {
		return "", false
	}
	return string(p.TextDocument.URI), true
}

// handleDidOpen implements spec.md §4.6 "Open" and §4.7 case 6.
func (p *Proxy) handleDidOpen(ctx context.Context, msg *rpcmsg.Message) error {
	if msg.Params == nil {
		return nil
	}
	var params lsp.DidOpenTextDocumentParams
	if err := json.Unmarshal(*msg.Params, &params); err != nil || params.TextDocument.URI == "" {
		return nil
	}

	uri := string(params.TextDocument.URI)
	var venv string
	if path, ok := document.FilePath(uri); ok {
		if v, err := p.resolver.Find(path, p.repoRoot); err != nil {
			p.logger.Warn("venv resolution failed for didOpen", "uri", uri, "err", err)
		} else {
			venv = v
		}
	}

	p.docs.Open(uri, params.TextDocument.LanguageID, params.TextDocument.Version, params.TextDocument.Text, venv)

	if venv == "" {
		p.logger.Debug("no venv found for document, not forwarding didOpen", "uri", uri)
		return nil
	}

	if !p.pool.Contains(venv) {
		if p.pool.IsFull() {
			if err := p.evictLRU(); err != nil {
				p.logger.Warn("LRU eviction failed while making room for new backend", "err", err)
			}
		}
		if err := p.instantiate(ctx, venv); err != nil {
			p.logger.Error("failed to create backend for didOpen", "venv", venv, "err", err)
		}
		// instantiate() already replayed this document (it is now cached).
		return nil
	}

	inst, _ := p.pool.Get(venv)
	inst.Touch()
	if err := inst.Writer.Write(msg); err != nil {
		p.logger.Warn("failed to forward didOpen to backend", "venv", venv, "err", err)
	}
	return nil
}

// didChangeParams mirrors lsp.DidChangeTextDocumentParams except version
// is a pointer: spec.md §4.6 needs to distinguish "no version sent" from
// "version sent as 0", which lsp.VersionedTextDocumentIdentifier's plain
// int cannot express.
type didChangeParams struct {
	TextDocument struct {
		URI     lsp.DocumentURI `json:"uri"`
		Version *int            `json:"version"`
	} `json:"textDocument"`
	ContentChanges []rawContentChange `json:"contentChanges"`
}

type rawContentChange struct {
	Range *lsp.Range `json:"range"`
	Text  string     `json:"text"`
}

// handleDidChange implements spec.md §4.6 "Change" and §4.7 case 7.
func (p *Proxy) handleDidChange(msg *rpcmsg.Message) error {
	if msg.Params == nil {
		return nil
	}
	var params didChangeParams
	if err := json.Unmarshal(*msg.Params, &params); err != nil || params.TextDocument.URI == "" {
		return nil
	}

	changes := make([]document.Change, 0, len(params.ContentChanges))
	for _, c := range params.ContentChanges {
		if c.Range == nil {
			changes = append(changes, document.Change{NewText: c.Text})
			continue
		}
		changes = append(changes, document.Change{
			Range: &textedit.Range{
				Start: textedit.Position{Line: c.Range.Start.Line, Character: c.Range.Start.Character},
				End:   textedit.Position{Line: c.Range.End.Line, Character: c.Range.End.Character},
			},
			NewText: c.Text,
		})
	}

	hasVersion := params.TextDocument.Version != nil
	version := 0
	if hasVersion {
		version = *params.TextDocument.Version
	}

	uri := string(params.TextDocument.URI)
	if _, err := p.docs.Change(uri, changes, version, hasVersion); err != nil {
		if errs.Is(err, errs.KindProtocolSemantic) {
			p.logger.Warn("invalid didChange range, cache left at last-known-good state", "uri", uri, "err", err)
		} else {
			p.logger.Warn("failed applying didChange", "uri", uri, "err", err)
		}
	}

	if venv, ok := p.docs.VenvFor(uri); ok {
		if inst, ok := p.pool.Get(venv); ok {
			inst.Touch()
			if err := inst.Writer.Write(msg); err != nil {
				p.logger.Warn("failed to forward didChange to backend", "venv", venv, "err", err)
			}
		}
	}
	return nil
}

// handleDidClose implements spec.md §4.6 "Close" and §4.7 case 8.
func (p *Proxy) handleDidClose(msg *rpcmsg.Message) error {
	uri, ok := extractURI(msg)
	if !ok {
		return nil
	}

	venv, had := p.docs.Close(uri)
	if !had {
		p.logger.Warn("didClose for unknown document", "uri", uri)
		return nil
	}
	if venv == "" {
		return nil
	}

	if inst, ok := p.pool.Get(venv); ok {
		inst.Touch()
		if err := inst.Writer.Write(msg); err != nil {
			p.logger.Warn("failed to forward didClose to backend", "venv", venv, "err", err)
		}
	}
	return nil
}

type cancelParams struct {
	ID json.RawMessage `json:"id"`
}

// handleCancelRequest implements spec.md §4.7 case 9.
func (p *Proxy) handleCancelRequest(msg *rpcmsg.Message) {
	if msg.Params == nil {
		return
	}
	var params cancelParams
	if err := json.Unmarshal(*msg.Params, &params); err != nil || params.ID == nil {
		return
	}
	var target rpcmsg.ID
	if err := json.Unmarshal(params.ID, &target); err != nil {
		return
	}

	for _, venv := range p.pool.Keys() {
		inst, ok := p.pool.Get(venv)
		if !ok {
			continue
		}
		for i, qr := range inst.WarmupQueue {
			if qr.Msg.ID != nil && *qr.Msg.ID == target {
				inst.WarmupQueue = append(inst.WarmupQueue[:i], inst.WarmupQueue[i+1:]...)
				delete(p.pendingC2B, target)
				p.metrics.SetWarmupQueueDepth(venv, len(inst.WarmupQueue))
				return
			}
		}
	}

	p.forwardToAllBackends(msg)
}

// dispatchGenericRequest implements spec.md §4.8.
func (p *Proxy) dispatchGenericRequest(ctx context.Context, msg *rpcmsg.Message) error {
	uri, hasURI := extractURI(msg)
	var targetVenv string
	var haveTarget bool

	if hasURI && venvCheckMethods[msg.Method] {
		if path, isFile := document.FilePath(uri); isFile {
			venv, found, err := p.ensureBackendInPool(ctx, path)
			if err != nil {
				return p.writeError(msg, "venvmux: backend error: "+err.Error())
			}
			if !found {
				p.logger.Warn("no venv found, returning error", "method", msg.Method, "uri", uri)
				return p.writeError(msg, "venvmux: .venv not found (strict mode). Create .venv or run hooks.")
			}
			targetVenv, haveTarget = venv, true
		} else {
			return p.writeError(msg, "venvmux: not a filesystem URI (strict mode)")
		}
	}

	if !haveTarget && hasURI {
		if v, ok := p.docs.VenvFor(uri); ok {
			targetVenv, haveTarget = v, true
		} else if path, isFile := document.FilePath(uri); isFile {
			venv, found, err := p.ensureBackendInPool(ctx, path)
			if err != nil {
				return p.writeError(msg, "venvmux: backend error: "+err.Error())
			}
			if found {
				targetVenv, haveTarget = venv, true
			}
		} else {
			return p.writeError(msg, "venvmux: not a filesystem URI (strict mode)")
		}
	}

	if haveTarget {
		return p.forwardRequestToVenv(msg, targetVenv)
	}

	if p.pool.IsEmpty() {
		return p.writeError(msg, "venvmux: .venv not found (strict mode). Create .venv or run hooks.")
	}
	if p.pool.Len() == 1 {
		venv, _ := p.pool.FirstKey()
		return p.forwardRequestToVenv(msg, venv)
	}
	return p.writeError(msg, "venvmux: cannot determine target backend among multiple candidates")
}

func (p *Proxy) forwardRequestToVenv(msg *rpcmsg.Message, venv string) error {
	inst, ok := p.pool.Get(venv)
	if !ok {
		return p.writeError(msg, "venvmux: backend not available")
	}
	inst.Touch()
	p.maybeDrainWarmup(venv, inst)

	if inst.Warmup == pool.Warming && warmupQueueMethods[msg.Method] {
		inst.WarmupQueue = append(inst.WarmupQueue, pool.QueuedRequest{Msg: msg.Clone(), Session: inst.Session})
		p.metrics.SetWarmupQueueDepth(venv, len(inst.WarmupQueue))
		if msg.ID != nil {
			p.pendingC2B[*msg.ID] = pendingClientToBackend{Venv: venv, Session: inst.Session}
		}
		return nil
	}

	if msg.ID != nil {
		p.pendingC2B[*msg.ID] = pendingClientToBackend{Venv: venv, Session: inst.Session}
	}
	if err := inst.Writer.Write(msg); err != nil {
		p.logger.Error("failed to send request to backend", "venv", venv, "err", err)
	}
	return nil
}
