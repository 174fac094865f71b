// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package lua runs extension entry points in sandboxed gopher-lua states.
// It backs the in-process worker host and the node host process.
package lua

import (
	"context"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
)

// DefaultCallStackSize bounds call depth inside one extension.
const DefaultCallStackSize = 256

// sandboxLibs are the standard libraries an extension may use. os, io,
// debug, package, coroutine and channel are never opened.
var sandboxLibs = []struct {
	name string
	open lua.LGFunction
}{
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
}

// hiddenGlobals load code from disk or strings without going through the
// host, so they are removed after the base library opens.
var hiddenGlobals = []string{"dofile", "loadfile", "loadstring", "load", "require"}

// Sandbox builds the Lua state each activated extension runs in.
type Sandbox struct {
	// CallStackSize is the maximum call depth. Zero means
	// DefaultCallStackSize.
	CallStackSize int
}

// NewState opens a state holding only the sandbox libraries. Running code
// is interrupted when ctx ends.
func (s Sandbox) NewState(ctx context.Context) (*lua.LState, error) {
	depth := s.CallStackSize
	if depth <= 0 {
		depth = DefaultCallStackSize
	}
	L := lua.NewState(lua.Options{SkipOpenLibs: true, CallStackSize: depth})

	for _, lib := range sandboxLibs {
		err := L.CallByParam(lua.P{Fn: L.NewFunction(lib.open), Protect: true}, lua.LString(lib.name))
		if err != nil {
			L.Close()
			return nil, oops.In("lua").With("library", lib.name).Wrapf(err, "open library")
		}
	}
	for _, name := range hiddenGlobals {
		L.SetGlobal(name, lua.LNil)
	}

	L.SetContext(ctx)
	return L, nil
}
