// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"context"
	"log/slog"

	"github.com/oklog/ulid/v2"
	lua "github.com/yuin/gopher-lua"
)

// moduleName is the global table extensions use to reach the host.
const moduleName = "exthost"

// KVStore provides storage namespaced per extension.
type KVStore interface {
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Set(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace, key string) error
}

// registerAPI installs the exthost module into L, bound to st.
func (h *Host) registerAPI(L *lua.LState, st *extState) {
	mod := L.NewTable()

	L.SetField(mod, "log", L.NewFunction(h.logFn(st)))
	L.SetField(mod, "new_id", L.NewFunction(newIDFn))
	L.SetField(mod, "register_command", L.NewFunction(h.registerCommandFn(st)))
	L.SetField(mod, "on_will_run_file_operation", L.NewFunction(h.onWillRunFileOperationFn(st)))

	L.SetField(mod, "kv_get", L.NewFunction(h.kvGetFn(st)))
	L.SetField(mod, "kv_set", L.NewFunction(h.kvSetFn(st)))
	L.SetField(mod, "kv_delete", L.NewFunction(h.kvDeleteFn(st)))

	L.SetField(mod, "host", lua.LString(string(h.kind)))
	L.SetField(mod, "extension", extensionTable(L, st))

	L.SetGlobal(moduleName, mod)
}

func extensionTable(L *lua.LState, st *extState) *lua.LTable {
	t := L.NewTable()
	L.SetField(t, "id", lua.LString(st.info.ID))
	L.SetField(t, "name", lua.LString(st.info.Name))
	L.SetField(t, "version", lua.LString(st.info.Version))
	L.SetField(t, "path", lua.LString(st.info.RealPath))
	L.SetField(t, "is_builtin", lua.LBool(st.info.IsBuiltin))
	L.SetField(t, "is_development", lua.LBool(st.info.IsDevelopment))
	L.SetField(t, "extend_config", toLua(L, st.info.ExtendConfig))
	return t
}

func (h *Host) logFn(st *extState) lua.LGFunction {
	return func(L *lua.LState) int {
		level := L.CheckString(1)
		message := L.CheckString(2)

		logger := slog.Default().With("extension", st.info.ID, "host", string(h.kind))
		switch level {
		case "debug":
			logger.Debug(message)
		case "warn":
			logger.Warn(message)
		case "error":
			logger.Error(message)
		default:
			logger.Info(message)
		}
		return 0
	}
}

func newIDFn(L *lua.LState) int {
	L.Push(lua.LString(ulid.Make().String()))
	return 1
}

func (h *Host) registerCommandFn(st *extState) lua.LGFunction {
	return func(L *lua.LState) int {
		id := L.CheckString(1)
		fn := L.CheckFunction(2)
		if id == "" {
			L.ArgError(1, "command id must not be empty")
			return 0
		}
		h.addCommand(st, id, fn)
		return 0
	}
}

func (h *Host) onWillRunFileOperationFn(st *extState) lua.LGFunction {
	return func(L *lua.LState) int {
		fn := L.CheckFunction(1)
		st.participants = append(st.participants, fn)
		return 0
	}
}

func (h *Host) kvGetFn(st *extState) lua.LGFunction {
	return func(L *lua.LState) int {
		key := L.CheckString(1)

		if h.kv == nil {
			L.Push(lua.LNil)
			L.Push(lua.LString("kv store not available"))
			return 2
		}

		value, err := h.kv.Get(stateContext(L), st.info.ID, key)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		if value == nil {
			L.Push(lua.LNil)
			L.Push(lua.LNil)
			return 2
		}

		L.Push(lua.LString(string(value)))
		L.Push(lua.LNil)
		return 2
	}
}

func (h *Host) kvSetFn(st *extState) lua.LGFunction {
	return func(L *lua.LState) int {
		key := L.CheckString(1)
		value := L.CheckString(2)

		if h.kv == nil {
			L.Push(lua.LString("kv store not available"))
			return 1
		}
		if err := h.kv.Set(stateContext(L), st.info.ID, key, []byte(value)); err != nil {
			L.Push(lua.LString(err.Error()))
			return 1
		}
		L.Push(lua.LNil)
		return 1
	}
}

func (h *Host) kvDeleteFn(st *extState) lua.LGFunction {
	return func(L *lua.LState) int {
		key := L.CheckString(1)

		if h.kv == nil {
			L.Push(lua.LString("kv store not available"))
			return 1
		}
		if err := h.kv.Delete(stateContext(L), st.info.ID, key); err != nil {
			L.Push(lua.LString(err.Error()))
			return 1
		}
		L.Push(lua.LNil)
		return 1
	}
}
