// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"fmt"
	"math"
	"sort"

	lua "github.com/yuin/gopher-lua"
)

// maxDepth bounds recursion when converting nested tables.
const maxDepth = 32

// toLua converts a JSON-shaped Go value into a Lua value.
func toLua(L *lua.LState, v any) lua.LValue {
	return toLuaDepth(L, v, 0)
}

func toLuaDepth(L *lua.LState, v any, depth int) lua.LValue {
	if depth > maxDepth {
		return lua.LNil
	}
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case []any:
		t := L.NewTable()
		for _, item := range val {
			t.Append(toLuaDepth(L, item, depth+1))
		}
		return t
	case []string:
		t := L.NewTable()
		for _, item := range val {
			t.Append(lua.LString(item))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			t.RawSetString(k, toLuaDepth(L, val[k], depth+1))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(val))
	}
}

// fromLua converts a Lua value into a JSON-shaped Go value. Tables with
// keys 1..n become slices; other tables become maps with string keys.
// Functions and userdata become nil.
func fromLua(v lua.LValue) any {
	return fromLuaDepth(v, 0)
}

func fromLuaDepth(v lua.LValue, depth int) any {
	if depth > maxDepth {
		return nil
	}
	switch val := v.(type) {
	case lua.LBool:
		return bool(val)
	case lua.LString:
		return string(val)
	case lua.LNumber:
		f := float64(val)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	case *lua.LTable:
		if n := val.MaxN(); n > 0 && n == countKeys(val) {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, fromLuaDepth(val.RawGetInt(i), depth+1))
			}
			return out
		}
		out := make(map[string]any)
		val.ForEach(func(k, item lua.LValue) {
			out[k.String()] = fromLuaDepth(item, depth+1)
		})
		return out
	default:
		return nil
	}
}

func countKeys(t *lua.LTable) int {
	n := 0
	t.ForEach(func(lua.LValue, lua.LValue) { n++ })
	return n
}
