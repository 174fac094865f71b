// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/exthost/internal/extension"
	"github.com/holomush/exthost/internal/exthost"
)

// Compile-time interface check.
var _ exthost.Proxy = (*Host)(nil)

// DefaultParticipantTimeout is how long a will-file-operation participant
// may run before it is reported as slow.
const DefaultParticipantTimeout = 5 * time.Second

// extState is one activated extension. Its Lua state is not safe for
// concurrent use; mu serializes every call into it.
type extState struct {
	info extension.Info

	mu           sync.Mutex
	L            *lua.LState
	commands     map[string]*lua.LFunction
	order        []string
	participants []*lua.LFunction

	// published is guarded by Host.mu.
	published bool
}

// Host runs extension entry points, one sandboxed Lua state per extension.
type Host struct {
	kind               exthost.Kind
	sandbox            Sandbox
	kv                 KVStore
	participantTimeout time.Duration

	mu         sync.RWMutex
	extensions map[string]extension.Info
	active     map[string]*extState
	order      []string
	commands   map[string]*extState
	closed     bool
}

// Option configures a Host.
type Option func(*Host)

// WithKVStore exposes kv to extensions through exthost.kv_*.
func WithKVStore(kv KVStore) Option {
	return func(h *Host) {
		h.kv = kv
	}
}

// WithCallStackSize bounds call depth inside each extension.
func WithCallStackSize(n int) Option {
	return func(h *Host) {
		h.sandbox.CallStackSize = n
	}
}

// WithParticipantTimeout overrides DefaultParticipantTimeout.
func WithParticipantTimeout(d time.Duration) Option {
	return func(h *Host) {
		if d > 0 {
			h.participantTimeout = d
		}
	}
}

// NewHost creates a host of the given kind. The kind selects the entry
// point: main for the node host, workerMain for the worker host.
func NewHost(kind exthost.Kind, opts ...Option) *Host {
	h := &Host{
		kind:               kind,
		participantTimeout: DefaultParticipantTimeout,
		extensions:         make(map[string]extension.Info),
		active:             make(map[string]*extState),
		commands:           make(map[string]*extState),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Host) entry(info extension.Info) string {
	if h.kind == exthost.KindWorker {
		return info.WorkerMain
	}
	return info.Main
}

// UpdateExtensionData replaces the known extension list. Activated
// extensions that are missing from exts, or disabled, are deactivated.
func (h *Host) UpdateExtensionData(ctx context.Context, exts []extension.Info) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return oops.In("lua").Code(CodeHostClosed).With("operation", "update_extension_data").New("host is closed")
	}
	h.extensions = make(map[string]extension.Info, len(exts))
	for _, info := range exts {
		h.extensions[info.ID] = info
	}
	var gone []*extState
	for _, id := range slices.Clone(h.order) {
		if info, ok := h.extensions[id]; ok && info.Enabled {
			continue
		}
		gone = append(gone, h.unpublishLocked(id))
	}
	h.mu.Unlock()

	for _, st := range gone {
		slog.InfoContext(ctx, "deactivating removed extension",
			"extension", st.info.ID,
			"host", string(h.kind))
		h.deactivate(ctx, st)
	}
	return nil
}

// ActivateExtension loads the extension's entry point and calls its global
// activate function, if any. Activating twice returns the first result.
func (h *Host) ActivateExtension(ctx context.Context, info extension.Info) (exthost.ActivateResult, error) {
	entry := h.entry(info)
	if entry == "" {
		return exthost.ActivateResult{}, nil
	}

	h.mu.RLock()
	closed := h.closed
	existing := h.active[info.ID]
	h.mu.RUnlock()
	if closed {
		return exthost.ActivateResult{}, oops.In("lua").Code(CodeHostClosed).With("extension", info.ID).With("operation", "activate").New("host is closed")
	}
	if existing != nil {
		return existing.result(), nil
	}

	code, err := os.ReadFile(filepath.Clean(entry))
	if err != nil {
		return exthost.ActivateResult{}, oops.In("lua").Code(CodeExtensionLoad).With("extension", info.ID).With("operation", "activate").With("path", entry).Hint("failed to read entry file").Wrap(err)
	}

	L, err := h.sandbox.NewState(context.Background())
	if err != nil {
		return exthost.ActivateResult{}, oops.In("lua").Code(CodeExtensionLoad).With("extension", info.ID).With("operation", "activate").Hint("failed to create state").Wrap(err)
	}

	st := &extState{
		info:     info,
		L:        L,
		commands: make(map[string]*lua.LFunction),
	}
	h.registerAPI(L, st)

	if err := h.load(ctx, st, string(code)); err != nil {
		L.Close()
		return exthost.ActivateResult{}, err
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		L.Close()
		return exthost.ActivateResult{}, oops.In("lua").Code(CodeHostClosed).With("extension", info.ID).With("operation", "activate").New("host is closed")
	}
	if winner := h.active[info.ID]; winner != nil {
		h.mu.Unlock()
		L.Close()
		return winner.result(), nil
	}
	h.active[info.ID] = st
	h.order = append(h.order, info.ID)
	st.published = true
	for _, id := range st.order {
		h.bindCommandLocked(ctx, st, id)
	}
	h.mu.Unlock()

	slog.DebugContext(ctx, "extension activated",
		"extension", info.ID,
		"host", string(h.kind),
		"commands", len(st.order))
	return st.result(), nil
}

func (h *Host) load(ctx context.Context, st *extState, code string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	L := st.L
	L.SetContext(ctx)
	defer L.RemoveContext()

	if err := L.DoString(code); err != nil {
		return oops.In("lua").Code(CodeExtensionLoad).With("extension", st.info.ID).With("operation", "activate").Hint("failed to load code").Wrap(err)
	}

	activate, ok := L.GetGlobal("activate").(*lua.LFunction)
	if !ok {
		return nil
	}
	if err := L.CallByParam(lua.P{
		Fn:      activate,
		NRet:    0,
		Protect: true,
	}, L.GetField(L.GetGlobal(moduleName), "extension")); err != nil {
		return oops.In("lua").Code(CodeExtensionLoad).With("extension", st.info.ID).With("operation", "activate").Wrap(err)
	}
	return nil
}

func (st *extState) result() exthost.ActivateResult {
	return exthost.ActivateResult{Commands: slices.Clone(st.order)}
}

func (h *Host) addCommand(st *extState, id string, fn *lua.LFunction) {
	if _, dup := st.commands[id]; !dup {
		st.order = append(st.order, id)
	}
	st.commands[id] = fn

	h.mu.Lock()
	defer h.mu.Unlock()
	if st.published {
		h.bindCommandLocked(stateContext(st.L), st, id)
	}
}

func (h *Host) bindCommandLocked(ctx context.Context, st *extState, id string) {
	if owner, ok := h.commands[id]; ok && owner != st {
		slog.WarnContext(ctx, "command already registered by another extension, replacing",
			"command", id,
			"previous", owner.info.ID,
			"extension", st.info.ID)
	}
	h.commands[id] = st
}

// unpublishLocked removes id and its commands from the host maps and
// returns its state for deactivation.
func (h *Host) unpublishLocked(id string) *extState {
	st := h.active[id]
	delete(h.active, id)
	h.order = slices.DeleteFunc(h.order, func(v string) bool { return v == id })
	for cmd, owner := range h.commands {
		if owner == st {
			delete(h.commands, cmd)
		}
	}
	st.published = false
	return st
}

// deactivate calls the extension's global deactivate function and closes
// its state.
func (h *Host) deactivate(ctx context.Context, st *extState) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.L == nil {
		return
	}
	if fn, ok := st.L.GetGlobal("deactivate").(*lua.LFunction); ok {
		st.L.SetContext(ctx)
		if err := st.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
			slog.WarnContext(ctx, "extension deactivate failed",
				"extension", st.info.ID,
				"error", err)
		}
		st.L.RemoveContext()
	}
	st.L.Close()
	st.L = nil
}

// ExecuteCommand calls the Lua function registered for id.
func (h *Host) ExecuteCommand(ctx context.Context, id string, args []any) (any, error) {
	h.mu.RLock()
	st, ok := h.commands[id]
	h.mu.RUnlock()
	if !ok {
		return nil, oops.In("lua").Code(CodeCommandNotFound).With("command", id).Errorf("command %q is not registered", id)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	fn, ok := st.commands[id]
	if st.L == nil || !ok {
		return nil, oops.In("lua").Code(CodeCommandNotFound).With("command", id).Errorf("command %q is not registered", id)
	}

	L := st.L
	L.SetContext(ctx)
	defer L.RemoveContext()

	params := make([]lua.LValue, 0, len(args))
	for _, a := range args {
		params = append(params, toLua(L, a))
	}
	if err := L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, params...); err != nil {
		return nil, oops.In("lua").Code(CodeCommandFailed).With("command", id).With("extension", st.info.ID).Wrap(err)
	}

	ret := L.Get(-1)
	L.Pop(1)
	return fromLua(ret), nil
}

// ActivatedExtensions returns activated extension ids in activation order.
func (h *Host) ActivatedExtensions(_ context.Context) ([]string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.order), nil
}

// WillRunFileOperation runs every participant in activation order and
// collects their edits. A participant that runs longer than the participant
// timeout is logged as slow; its edits are still used. Participant errors
// are logged and skipped. If ctx is cancelled no edits are returned.
func (h *Host) WillRunFileOperation(ctx context.Context, op exthost.FileOperation, files []exthost.FileChange) ([]exthost.FileEdit, error) {
	h.mu.RLock()
	states := make([]*extState, 0, len(h.order))
	for _, id := range h.order {
		states = append(states, h.active[id])
	}
	h.mu.RUnlock()

	var edits []exthost.FileEdit
	for _, st := range states {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		got := h.runParticipants(ctx, st, op, files)
		edits = append(edits, got...)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return edits, nil
}

func (h *Host) runParticipants(ctx context.Context, st *extState, op exthost.FileOperation, files []exthost.FileChange) []exthost.FileEdit {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.L == nil || len(st.participants) == 0 {
		return nil
	}

	L := st.L
	L.SetContext(ctx)
	defer L.RemoveContext()

	var edits []exthost.FileEdit
	for _, fn := range st.participants {
		if ctx.Err() != nil {
			return nil
		}
		start := time.Now()
		err := L.CallByParam(lua.P{
			Fn:      fn,
			NRet:    1,
			Protect: true,
		}, lua.LString(string(op)), fileChangesTable(L, files))
		elapsed := time.Since(start)

		if elapsed > h.participantTimeout {
			slog.WarnContext(ctx, "file operation participant is slow",
				"extension", st.info.ID,
				"operation", string(op),
				"elapsed", elapsed,
				"timeout", h.participantTimeout)
		}
		if err != nil {
			slog.WarnContext(ctx, "file operation participant failed",
				"extension", st.info.ID,
				"operation", string(op),
				"error", oops.In("lua").Code(CodeParticipantError).With("extension", st.info.ID).Wrap(err))
			continue
		}

		ret := L.Get(-1)
		L.Pop(1)
		edits = append(edits, parseEdits(ctx, st.info.ID, ret)...)
	}
	return edits
}

func fileChangesTable(L *lua.LState, files []exthost.FileChange) *lua.LTable {
	t := L.NewTable()
	for _, f := range files {
		ft := L.NewTable()
		if f.Source != "" {
			L.SetField(ft, "source", lua.LString(f.Source))
		}
		L.SetField(ft, "target", lua.LString(f.Target))
		t.Append(ft)
	}
	return t
}

func parseEdits(ctx context.Context, extID string, ret lua.LValue) []exthost.FileEdit {
	table, ok := ret.(*lua.LTable)
	if !ok {
		if ret.Type() != lua.LTNil {
			slog.WarnContext(ctx, "file operation participant returned non-table value",
				"extension", extID,
				"type", ret.Type().String())
		}
		return nil
	}

	var edits []exthost.FileEdit
	table.ForEach(func(_, v lua.LValue) {
		et, ok := v.(*lua.LTable)
		if !ok {
			return
		}
		path, ok := et.RawGetString("path").(lua.LString)
		if !ok || path == "" {
			slog.WarnContext(ctx, "file edit is missing path", "extension", extID)
			return
		}
		text, _ := et.RawGetString("new_text").(lua.LString)
		edits = append(edits, exthost.FileEdit{
			Path:      string(path),
			NewText:   string(text),
			Extension: extID,
		})
	})
	return edits
}

// Close deactivates every extension. Further calls fail.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	var states []*extState
	for _, id := range slices.Clone(h.order) {
		states = append(states, h.unpublishLocked(id))
	}
	h.mu.Unlock()

	for _, st := range states {
		h.deactivate(ctx, st)
	}
	return nil
}

// stateContext returns the context bound to L, or Background.
func stateContext(L *lua.LState) context.Context {
	if L != nil {
		if ctx := L.Context(); ctx != nil {
			return ctx
		}
	}
	return context.Background()
}
