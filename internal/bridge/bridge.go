// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

// Package bridge is the lifecycle state machine and reconciliation
// engine: it owns the store handle and the packet-filter context for
// the life of the process, enforces the Uninitialized → Initialized →
// Started ⇄ Stopped transitions, and drives start/stop reconciliation
// against the kernel.
package bridge

import (
	"sync"

	"github.com/google/uuid"

	brerr "phantomd.dev/bridge/internal/errors"
	"phantomd.dev/bridge/internal/logging"
	"phantomd.dev/bridge/internal/nftadapter"
	"phantomd.dev/bridge/internal/store"
)

// State is one of the four lifecycle labels the machine can be in.
// An additional Error label exists only for status reporting; it does
// not gate transitions.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitialized   State = "initialized"
	StateStarted       State = "started"
	StateStopped       State = "stopped"
	StateError         State = "error"
)

// filterAdapter is the subset of *nftadapter.Adapter the lifecycle
// engine depends on. Abstracting it lets tests substitute an in-memory
// fake instead of touching the real kernel.
type filterAdapter interface {
	ApplyRule(spec nftadapter.RuleSpec) (uint64, error)
	RemoveRuleByHandle(chainName string, handle uint64) error
	FlushTable() error
	Dump() ([]nftadapter.DumpedRule, error)
	FindHandleByStructuralMatch(query nftadapter.RuleSpec) (uint64, bool, error)
}

// Bridge is the process-wide lifecycle object. Every exported method
// runs under mu: the whole operation completes before the lock is
// released, so no caller ever observes an intermediate state.
type Bridge struct {
	mu sync.Mutex

	state     State
	dbPath    string
	store     *store.Store
	nft       filterAdapter
	log       *logging.Logger
	lastError string
}

// New returns an uninitialized bridge. Call Init to bring it up.
func New(log *logging.Logger) *Bridge {
	if log == nil {
		log = logging.Default()
	}
	// run_id ties every log line this process emits to one incarnation
	// of the bridge, so a shared syslog collector can separate runs
	// that reuse the same db_path across restarts.
	runID := uuid.New().String()
	return &Bridge{
		state: StateUninitialized,
		log:   log.WithComponent("bridge").WithFields(map[string]any{"run_id": runID}),
	}
}

// withLock runs fn under the process-wide exclusive lock. A panic
// inside fn is recovered, recorded as the last error and re-surfaced as
// a VerifyFailed-coded error rather than left to unwind — the lock
// itself is a plain sync.Mutex (never poisoned in Go), but a crash
// mid-operation must not prevent the next caller from acquiring it.
func (b *Bridge) withLock(fn func() error) (err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			b.lastError = fmtRecover(r)
			b.state = StateError
			err = brerr.Errorf(brerr.VerifyFailed, "recovered panic: %v", r)
		}
	}()
	return fn()
}

func fmtRecover(r any) string {
	if e, ok := r.(error); ok {
		return e.Error()
	}
	return "panic: " + toString(r)
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return "(non-string panic value)"
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// LastError returns the most recently recorded soft-failure message, if
// any.
func (b *Bridge) LastError() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastError
}

// Init opens the store at dbPath, resets any stale applied-flags left
// over from a prior process, opens the packet-filter context, and
// ensures the private table exists. Allowed from any state — a bridge
// that is already initialized auto-closes first, so a supervisor can
// re-init idempotently after a crash.
func (b *Bridge) Init(dbPath string) error {
	return b.withLock(func() error {
		if b.state != StateUninitialized {
			if err := b.closeLocked(); err != nil {
				return err
			}
		}

		st, err := store.Open(store.DefaultOptions(dbPath))
		if err != nil {
			return brerr.Wrap(err, brerr.DbOpen, "open store")
		}
		if err := st.InitConfig(); err != nil {
			st.Close()
			return brerr.Wrap(err, brerr.DbWrite, "init config row")
		}
		if err := st.ClearFwAppliedState(); err != nil {
			st.Close()
			return brerr.Wrap(err, brerr.DbWrite, "clear firewall applied state")
		}
		if err := st.ClearRtAppliedState(); err != nil {
			st.Close()
			return brerr.Wrap(err, brerr.DbWrite, "clear routing applied state")
		}

		nft, err := nftadapter.New(b.log)
		if err != nil {
			st.Close()
			return err
		}

		b.dbPath = dbPath
		b.store = st
		b.nft = nft
		b.lastError = ""
		b.state = StateInitialized
		if err := st.SetState(string(StateInitialized)); err != nil {
			return brerr.Wrap(err, brerr.DbWrite, "persist initialized state")
		}
		b.log.Info("bridge initialized", "db_path", dbPath)
		return nil
	})
}

// Close stops the bridge if it is running, then releases the store and
// packet-filter context and returns to Uninitialized.
func (b *Bridge) Close() error {
	return b.withLock(b.closeLocked)
}

func (b *Bridge) closeLocked() error {
	if b.state == StateStarted {
		if err := b.stopLocked(); err != nil {
			b.log.Warn("stop during close failed", "error", err)
		}
	}
	if b.store != nil {
		b.store.Close()
		b.store = nil
	}
	b.nft = nil
	b.dbPath = ""
	b.state = StateUninitialized
	return nil
}
