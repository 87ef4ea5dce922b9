// Package pool implements the backend pool: venv-keyed, bounded-capacity,
// LRU+TTL evictable, session-tagged (spec.md §4.5). Grounded on
// original_source/src/backend_pool.rs.
package pool

import (
	"os/exec"
	"time"

	"github.com/venvmux/venvmux/internal/framing"
	"github.com/venvmux/venvmux/internal/rpcmsg"
)

// WarmupState is the observable state machine described in spec.md §4.9,
// §9: a freshly spawned backend starts Warming and transitions to Ready
// once its deadline elapses (or, if the timeout is zero, immediately).
type WarmupState int

const (
	Warming WarmupState = iota
	Ready
)

// QueuedRequest is one request deferred in a backend's warmup FIFO
// (spec.md §3, §4.9).
type QueuedRequest struct {
	Msg     *rpcmsg.Message
	Session uint64
}

// Instance is one running backend: its writer half, its child process
// handle, and everything the pool needs to route, evict, and revive it
// (spec.md §3).
type Instance struct {
	Venv     string
	Session  uint64
	Writer   *framing.Stream
	Cmd      *exec.Cmd
	LastUsed time.Time
	NextID   int64

	Warmup         WarmupState
	WarmupDeadline time.Time
	WarmupQueue    []QueuedRequest

	// ReaderDone is closed by the goroutine SpawnReaderTask starts for
	// this instance when it stops reading (its backend's stdout closed
	// or errored). Eviction/crash paths wait on it in the background to
	// log when the reader task has stopped; reuse of the venv slot does
	// not wait for it.
	ReaderDone <-chan struct{}
}

// Touch updates the instance's last-used timestamp (spec.md §4.7, §4.8).
func (in *Instance) Touch() {
	in.LastUsed = time.Now()
}

// Message is what a backend reader task pushes onto the pool inbox: the
// (venv, session) tag plus either a received message or a tagged read
// error (spec.md §4.5).
type Message struct {
	Venv    string
	Session uint64
	Msg     *rpcmsg.Message
	Err     error
}

// Pool is the backend pool: keyed by venv path, bounded capacity,
// monotonically increasing session ids (spec.md §4.5).
type Pool struct {
	backends    map[string]*Instance
	inbox       chan Message
	maxBackends int
	ttl         time.Duration // zero disables TTL eviction
	nextSession uint64
}

// New returns an empty pool with the given capacity and optional TTL (zero
// disables TTL-based eviction).
func New(maxBackends int, ttl time.Duration) *Pool {
	return &Pool{
		backends:    make(map[string]*Instance),
		inbox:       make(chan Message, 1024),
		maxBackends: maxBackends,
		ttl:         ttl,
	}
}

// Inbox is the channel every reader task's messages arrive on.
func (p *Pool) Inbox() <-chan Message { return p.inbox }

// inboxSender exposes the send side to reader tasks without exposing the
// whole Pool (only the event loop mutates pool state).
func (p *Pool) inboxSender() chan<- Message { return p.inbox }

func (p *Pool) Get(venv string) (*Instance, bool) {
	in, ok := p.backends[venv]
	return in, ok
}

func (p *Pool) Contains(venv string) bool {
	_, ok := p.backends[venv]
	return ok
}

func (p *Pool) Insert(venv string, in *Instance) {
	p.backends[venv] = in
}

func (p *Pool) Remove(venv string) (*Instance, bool) {
	in, ok := p.backends[venv]
	if ok {
		delete(p.backends, venv)
	}
	return in, ok
}

// NextSession increments and returns the pool's session counter (spec.md
// §3: session ids for a venv are strictly increasing over the proxy's
// lifetime — the counter is global, which is a stronger and sufficient
// guarantee).
func (p *Pool) NextSession() uint64 {
	p.nextSession++
	return p.nextSession
}

func (p *Pool) IsFull() bool   { return len(p.backends) >= p.maxBackends }
func (p *Pool) Len() int       { return len(p.backends) }
func (p *Pool) IsEmpty() bool  { return len(p.backends) == 0 }
func (p *Pool) MaxBackends() int { return p.maxBackends }

// Keys returns all venv keys currently in the pool, copied so callers may
// mutate the pool while iterating.
func (p *Pool) Keys() []string {
	keys := make([]string, 0, len(p.backends))
	for k := range p.backends {
		keys = append(keys, k)
	}
	return keys
}

// FirstKey returns an arbitrary venv key, used for best-effort fallback
// routing when exactly one backend exists (spec.md §4.5, §4.8).
func (p *Pool) FirstKey() (string, bool) {
	for k := range p.backends {
		return k, true
	}
	return "", false
}

// LRU returns the venv of the least-recently-used backend, preferring one
// with zero pending requests (per pendingCount); if none qualifies, it
// falls back to the global LRU regardless of pending count (spec.md §4.5).
func (p *Pool) LRU(pendingCount func(venv string, session uint64) int) (string, bool) {
	var bestVenv string
	var bestTime time.Time
	found := false

	for venv, in := range p.backends {
		if pendingCount(venv, in.Session) != 0 {
			continue
		}
		if !found || in.LastUsed.Before(bestTime) {
			bestVenv, bestTime, found = venv, in.LastUsed, true
		}
	}
	if found {
		return bestVenv, true
	}

	found = false
	for venv, in := range p.backends {
		if !found || in.LastUsed.Before(bestTime) {
			bestVenv, bestTime, found = venv, in.LastUsed, true
		}
	}
	return bestVenv, found
}

// Expired returns venvs whose last-used timestamp is at least TTL in the
// past. With no TTL configured it returns an empty slice; pending-request
// filtering is the caller's responsibility (spec.md §4.5, §4.11).
func (p *Pool) Expired() []string {
	if p.ttl == 0 {
		return nil
	}
	now := time.Now()
	var out []string
	for venv, in := range p.backends {
		if now.Sub(in.LastUsed) >= p.ttl {
			out = append(out, venv)
		}
	}
	return out
}

// TTL reports the configured backend TTL (zero means disabled).
func (p *Pool) TTL() time.Duration { return p.ttl }

// SpawnReaderTask launches a goroutine that reads frames from inst's
// backend and pushes them onto the pool inbox, tagged with (venv,
// session), until the first read error (which it also enqueues before
// stopping) (spec.md §4.5, §5).
func SpawnReaderTask(reader *framing.Stream, sender chan<- Message, venv string, session uint64) chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg rpcmsg.Message
			err := reader.ReadInto(&msg)
			if err != nil {
				sender <- Message{Venv: venv, Session: session, Err: err}
				return
			}
			sender <- Message{Venv: venv, Session: session, Msg: &msg}
		}
	}()
	return done
}

// Sender returns the inbox's send side, for wiring a freshly spawned
// reader task.
func (p *Pool) Sender() chan<- Message { return p.inboxSender() }
