package proxy

import (
	"context"
	"time"

	"github.com/sourcegraph/go-langserver/pkg/lsp"

	"github.com/venvmux/venvmux/internal/backend"
	"github.com/venvmux/venvmux/internal/document"
	"github.com/venvmux/venvmux/internal/errs"
	"github.com/venvmux/venvmux/internal/pool"
	"github.com/venvmux/venvmux/internal/rpcmsg"
)

// initializeHandshake sends clientInit's params to a freshly spawned
// backend as its own `initialize` request (id 1), waits up to
// initializeDeadline for the matching response (skipping any
// notifications the backend emits before it), and on success sends
// `initialized` (spec.md §4.10).
func initializeHandshake(h *backend.Handle, clientInit *rpcmsg.Message) (*rpcmsg.Message, error) {
	if clientInit == nil {
		return nil, errs.New(errs.KindProtocolSemantic, "no cached client initialize params to forward")
	}

	req := rpcmsg.NewRequestRaw(rpcmsg.NumberID(1), "initialize", clientInit.Params)
	if err := h.Send(req); err != nil {
		return nil, errs.Wrap(errs.KindBackendInitialize, err, "sending initialize to backend")
	}

	deadline := time.Now().Add(initializeDeadline)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, errs.New(errs.KindBackendInitialize, "timed out waiting for backend initialize response")
		}
		msg, err := readWithTimeout(h, remaining)
		if err != nil {
			return nil, errs.Wrap(errs.KindBackendInitialize, err, "reading backend initialize response")
		}
		if msg.IsNotification() {
			continue
		}
		if !msg.IsResponse() || msg.ID == nil || msg.ID.IsString || msg.ID.Num != 1 {
			continue
		}
		if msg.Error != nil {
			return nil, errs.Wrap(errs.KindBackendInitialize, msg.Error, "backend rejected initialize")
		}

		initialized, _ := rpcmsg.NewNotification("initialized", map[string]interface{}{})
		if err := h.Send(initialized); err != nil {
			return nil, errs.Wrap(errs.KindBackendInitialize, err, "sending initialized notification")
		}
		return msg, nil
	}
}

type handleReadResult struct {
	msg *rpcmsg.Message
	err error
}

// readWithTimeout reads one frame from h, bounded by timeout.
func readWithTimeout(h *backend.Handle, timeout time.Duration) (*rpcmsg.Message, error) {
	ch := make(chan handleReadResult, 1)
	go func() {
		msg, err := h.Read()
		ch <- handleReadResult{msg: msg, err: err}
	}()
	select {
	case r := <-ch:
		return r.msg, r.err
	case <-time.After(timeout):
		return nil, errs.New(errs.KindBackendInitialize, "read timed out")
	}
}

// ensureBackendInPool resolves the venv for path, spawning and
// initializing a backend for it if none exists yet (spec.md §4.8,
// §4.9). It evicts the LRU backend first if the pool is already at
// capacity.
func (p *Proxy) ensureBackendInPool(ctx context.Context, path string) (venv string, found bool, err error) {
	venv, rerr := p.resolver.Find(path, p.repoRoot)
	if rerr != nil {
		return "", false, nil
	}
	if venv == "" {
		return "", false, nil
	}

	if p.pool.Contains(venv) {
		return venv, true, nil
	}

	if p.pool.IsFull() {
		if err := p.evictLRU(); err != nil {
			p.logger.Warn("LRU eviction failed while making room for new backend", "err", err)
		}
	}
	if err := p.instantiate(ctx, venv); err != nil {
		return "", false, err
	}
	return venv, true, nil
}

// instantiate spawns a new backend process for venv, runs the
// initialize handshake, replays cached open documents, and inserts the
// resulting instance into the pool (spec.md §4.9, §4.10).
func (p *Proxy) instantiate(ctx context.Context, venv string) error {
	h, err := backend.Spawn(ctx, p.cfg.BackendKind, venv)
	if err != nil {
		p.metrics.IncBackendSpawnFailed()
		p.notifyBackendError(venv, err)
		return err
	}

	if _, err := initializeHandshake(h, p.clientInitialize); err != nil {
		p.metrics.IncBackendSpawnFailed()
		p.notifyBackendError(venv, err)
		return err
	}

	session := p.pool.NextSession()
	docs := p.docs.ForReplay(venv, venvParentDir(venv))
	if rerr := document.Replay(docs, func(d *document.Open) error { return sendDidOpen(h, d) }); rerr != nil {
		p.logger.Warn("partial failure replaying documents to new backend", "venv", venv, "err", rerr)
	}

	parts := h.Split()
	inst := p.newInstance(venv, session, parts)
	inst.ReaderDone = pool.SpawnReaderTask(parts.Reader, p.pool.Sender(), venv, session)
	p.pool.Insert(venv, inst)

	p.metrics.IncBackendSpawned()
	p.metrics.SetPoolOccupancy(p.pool.Len())
	p.logger.Info("backend instantiated", "venv", venv, "session", session)
	return nil
}

// newInstance builds a pool.Instance for a just-split backend, entering
// the Warming state unless warmup queueing is disabled entirely
// (spec.md §4.9, §9).
func (p *Proxy) newInstance(venv string, session uint64, parts backend.Parts) *pool.Instance {
	inst := &pool.Instance{
		Venv:     venv,
		Session:  session,
		Writer:   parts.Writer,
		Cmd:      parts.Cmd,
		LastUsed: time.Now(),
		NextID:   parts.NextID,
	}
	if p.cfg.WarmupTimeout <= 0 {
		inst.Warmup = pool.Ready
	} else {
		inst.Warmup = pool.Warming
		inst.WarmupDeadline = time.Now().Add(p.cfg.WarmupTimeout)
	}
	return inst
}

// notifyBackendError tells the client a backend could not be started,
// via window/showMessage with error severity (spec.md §6).
func (p *Proxy) notifyBackendError(venv string, err error) {
	notif, merr := rpcmsg.NewNotification("window/showMessage", lsp.ShowMessageParams{
		Type:    lsp.Error,
		Message: backendErrorMessage(venv, err),
	})
	if merr != nil {
		return
	}
	if werr := p.clientWriter.Write(notif); werr != nil {
		p.logger.Warn("failed to notify client of backend error", "venv", venv, "err", werr)
	}
}

func sendDidOpen(h *backend.Handle, d *document.Open) error {
	notif, err := rpcmsg.NewNotification("textDocument/didOpen", lsp.DidOpenTextDocumentParams{
		TextDocument: lsp.TextDocumentItem{
			URI:        lsp.DocumentURI(d.URI),
			LanguageID: d.LanguageID,
			Version:    d.Version,
			Text:       d.Text,
		},
	})
	if err != nil {
		return err
	}
	return h.Send(notif)
}

// maybeDrainWarmup flips inst to Ready once its deadline has passed and
// drains anything queued behind it (spec.md §4.9).
func (p *Proxy) maybeDrainWarmup(venv string, inst *pool.Instance) {
	if inst.Warmup != pool.Warming {
		return
	}
	if time.Now().Before(inst.WarmupDeadline) {
		return
	}
	inst.Warmup = pool.Ready
	p.drainWarmupQueue(venv, inst)
}

// drainWarmupQueue flushes every request queued while inst was Warming,
// in FIFO order, re-checking the instance is still the current session
// for the venv before each send (a crash mid-drain must not resurrect
// writes to a dead process) (spec.md §4.9).
func (p *Proxy) drainWarmupQueue(venv string, inst *pool.Instance) {
	queue := inst.WarmupQueue
	inst.WarmupQueue = nil
	p.metrics.SetWarmupQueueDepth(venv, 0)

	for _, qr := range queue {
		current, ok := p.pool.Get(venv)
		if !ok || current.Session != qr.Session {
			if qr.Msg.ID != nil {
				delete(p.pendingC2B, *qr.Msg.ID)
			}
			continue
		}
		if err := current.Writer.Write(qr.Msg); err != nil {
			p.logger.Error("failed to drain warmup-queued request", "venv", venv, "err", err)
			if qr.Msg.ID != nil {
				_ = p.clientWriter.Write(rpcmsg.NewErrorResponse(qr.Msg, "venvmux: backend became unavailable while warming up"))
				delete(p.pendingC2B, *qr.Msg.ID)
			}
		}
	}
}

// drainReadyWarmups opportunistically flips every instance whose
// warmup deadline has elapsed, called each TTL-sweep tick since warmup
// completion is observed passively rather than on its own timer
// (spec.md §4.9, §9).
func (p *Proxy) drainReadyWarmups() {
	for _, venv := range p.pool.Keys() {
		inst, ok := p.pool.Get(venv)
		if !ok {
			continue
		}
		p.maybeDrainWarmup(venv, inst)
	}
}
