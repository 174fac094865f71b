// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua_test

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/exthost/internal/extension"
	"github.com/holomush/exthost/internal/exthost"
	extlua "github.com/holomush/exthost/internal/exthost/lua"
	"github.com/holomush/exthost/pkg/errutil"
)

// writeEntry writes a Lua entry file and returns its path.
func writeEntry(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func info(id, main string) extension.Info {
	return extension.Info{ID: id, Name: id, Version: "1.0.0", Main: main, Enabled: true}
}

// closeHost closes the host and fails the test if an error occurs.
func closeHost(t *testing.T, host *extlua.Host) {
	t.Helper()
	require.NoError(t, host.Close(context.Background()))
}

type memKV struct {
	mu    sync.Mutex
	data  map[string]string
	delay time.Duration
}

func newMemKV() *memKV { return &memKV{data: make(map[string]string)} }

func (m *memKV) Get(_ context.Context, ns, key string) ([]byte, error) {
	time.Sleep(m.delay)
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[ns+"/"+key]
	if !ok {
		return nil, nil
	}
	return []byte(v), nil
}

func (m *memKV) Set(_ context.Context, ns, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[ns+"/"+key] = string(value)
	return nil
}

func (m *memKV) Delete(_ context.Context, ns, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, ns+"/"+key)
	return nil
}

func (m *memKV) value(ns, key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[ns+"/"+key]
}

const greeter = `
local greeting = "hello"

function activate(ext)
  exthost.register_command("greeter.greet", function(name)
    return greeting .. " " .. name
  end)
  exthost.register_command("greeter.whoami", function()
    return ext.id
  end)
end
`

func TestHost_ActivateRegistersCommands(t *testing.T) {
	ctx := context.Background()
	host := extlua.NewHost(exthost.KindNode)
	defer closeHost(t, host)

	res, err := host.ActivateExtension(ctx, info("test.greeter", writeEntry(t, "main.lua", greeter)))
	require.NoError(t, err)
	assert.Equal(t, []string{"greeter.greet", "greeter.whoami"}, res.Commands)

	got, err := host.ExecuteCommand(ctx, "greeter.greet", []any{"world"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", got)

	got, err = host.ExecuteCommand(ctx, "greeter.whoami", nil)
	require.NoError(t, err)
	assert.Equal(t, "test.greeter", got)

	ids, err := host.ActivatedExtensions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"test.greeter"}, ids)
}

func TestHost_ActivateTwiceLoadsOnce(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	host := extlua.NewHost(exthost.KindNode, extlua.WithKVStore(kv))
	defer closeHost(t, host)

	entry := writeEntry(t, "main.lua", `
local n = tonumber(exthost.kv_get("loads") or "0")
exthost.kv_set("loads", tostring(n + 1))
exthost.register_command("count.loads", function() return n + 1 end)
`)
	first, err := host.ActivateExtension(ctx, info("test.count", entry))
	require.NoError(t, err)
	second, err := host.ActivateExtension(ctx, info("test.count", entry))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "1", kv.value("test.count", "loads"))
}

func TestHost_ActivateWithoutEntryForKind(t *testing.T) {
	ctx := context.Background()
	host := extlua.NewHost(exthost.KindWorker)
	defer closeHost(t, host)

	res, err := host.ActivateExtension(ctx, info("test.nodeonly", writeEntry(t, "main.lua", greeter)))
	require.NoError(t, err)
	assert.Empty(t, res.Commands)

	ids, err := host.ActivatedExtensions(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestHost_WorkerUsesWorkerMain(t *testing.T) {
	ctx := context.Background()
	host := extlua.NewHost(exthost.KindWorker)
	defer closeHost(t, host)

	ext := extension.Info{
		ID:         "test.worker",
		Enabled:    true,
		WorkerMain: writeEntry(t, "worker.lua", `exthost.register_command("worker.host", function() return exthost.host end)`),
	}
	_, err := host.ActivateExtension(ctx, ext)
	require.NoError(t, err)

	got, err := host.ExecuteCommand(ctx, "worker.host", nil)
	require.NoError(t, err)
	assert.Equal(t, "worker", got)
}

func TestHost_ActivateFailures(t *testing.T) {
	tests := []struct {
		name  string
		entry func(t *testing.T) string
	}{
		{"missing entry file", func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.lua") }},
		{"syntax error", func(t *testing.T) string { return writeEntry(t, "main.lua", `function broken(`) }},
		{"activate raises", func(t *testing.T) string {
			return writeEntry(t, "main.lua", `function activate() error("no thanks") end`)
		}},
		{"sandbox blocks os", func(t *testing.T) string { return writeEntry(t, "main.lua", `os.exit(1)`) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			host := extlua.NewHost(exthost.KindNode)
			defer closeHost(t, host)

			_, err := host.ActivateExtension(ctx, info("test.bad", tt.entry(t)))
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, extlua.CodeExtensionLoad)

			ids, err := host.ActivatedExtensions(ctx)
			require.NoError(t, err)
			assert.Empty(t, ids, "failed activation must not be recorded")
		})
	}
}

func TestHost_ExecuteCommandErrors(t *testing.T) {
	ctx := context.Background()
	host := extlua.NewHost(exthost.KindNode)
	defer closeHost(t, host)

	_, err := host.ActivateExtension(ctx, info("test.fail", writeEntry(t, "main.lua",
		`exthost.register_command("fail.now", function() error("kaboom") end)`)))
	require.NoError(t, err)

	_, err = host.ExecuteCommand(ctx, "fail.now", nil)
	errutil.AssertErrorCode(t, err, extlua.CodeCommandFailed)
	errutil.AssertErrorContext(t, err, "extension", "test.fail")

	_, err = host.ExecuteCommand(ctx, "missing.command", nil)
	errutil.AssertErrorCode(t, err, extlua.CodeCommandNotFound)
}

func TestHost_CommandRegisteredLaterIsReachable(t *testing.T) {
	ctx := context.Background()
	host := extlua.NewHost(exthost.KindNode)
	defer closeHost(t, host)

	_, err := host.ActivateExtension(ctx, info("test.lazy", writeEntry(t, "main.lua", `
exthost.register_command("lazy.setup", function()
  exthost.register_command("lazy.ready", function() return true end)
end)
`)))
	require.NoError(t, err)

	_, err = host.ExecuteCommand(ctx, "lazy.setup", nil)
	require.NoError(t, err)

	got, err := host.ExecuteCommand(ctx, "lazy.ready", nil)
	require.NoError(t, err)
	assert.Equal(t, true, got)
}

func TestHost_UpdateExtensionDataDeactivatesRemoved(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	host := extlua.NewHost(exthost.KindNode, extlua.WithKVStore(kv))
	defer closeHost(t, host)

	keep := info("test.keep", writeEntry(t, "keep.lua", `exthost.register_command("keep.ping", function() return "pong" end)`))
	drop := info("test.drop", writeEntry(t, "drop.lua", `
exthost.register_command("drop.ping", function() return "pong" end)
function deactivate() exthost.kv_set("bye", "1") end
`))
	_, err := host.ActivateExtension(ctx, keep)
	require.NoError(t, err)
	_, err = host.ActivateExtension(ctx, drop)
	require.NoError(t, err)

	require.NoError(t, host.UpdateExtensionData(ctx, []extension.Info{keep}))

	ids, err := host.ActivatedExtensions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"test.keep"}, ids)
	assert.Equal(t, "1", kv.value("test.drop", "bye"))

	_, err = host.ExecuteCommand(ctx, "drop.ping", nil)
	errutil.AssertErrorCode(t, err, extlua.CodeCommandNotFound)
	_, err = host.ExecuteCommand(ctx, "keep.ping", nil)
	require.NoError(t, err)
}

func TestHost_WillRunFileOperationCollectsEdits(t *testing.T) {
	ctx := context.Background()
	host := extlua.NewHost(exthost.KindNode)
	defer closeHost(t, host)

	_, err := host.ActivateExtension(ctx, info("test.first", writeEntry(t, "first.lua", `
exthost.on_will_run_file_operation(function(op, files)
  local edits = {}
  for _, f in ipairs(files) do
    table.insert(edits, { path = f.target, new_text = op .. ":" .. (f.source or "") })
  end
  return edits
end)
`)))
	require.NoError(t, err)
	_, err = host.ActivateExtension(ctx, info("test.broken", writeEntry(t, "broken.lua", `
exthost.on_will_run_file_operation(function() error("participant bug") end)
`)))
	require.NoError(t, err)
	_, err = host.ActivateExtension(ctx, info("test.second", writeEntry(t, "second.lua", `
exthost.on_will_run_file_operation(function() return { { path = "/index.ts", new_text = "x" }, { new_text = "no path" } } end)
`)))
	require.NoError(t, err)

	edits, err := host.WillRunFileOperation(ctx, exthost.FileMove, []exthost.FileChange{{Source: "/a.ts", Target: "/b.ts"}})
	require.NoError(t, err)
	assert.Equal(t, []exthost.FileEdit{
		{Path: "/b.ts", NewText: "move:/a.ts", Extension: "test.first"},
		{Path: "/index.ts", NewText: "x", Extension: "test.second"},
	}, edits)
}

func TestHost_SlowParticipantIsLoggedAndHonored(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	ctx := context.Background()
	kv := newMemKV()
	kv.delay = 30 * time.Millisecond
	host := extlua.NewHost(exthost.KindNode,
		extlua.WithKVStore(kv),
		extlua.WithParticipantTimeout(time.Millisecond))
	defer closeHost(t, host)

	_, err := host.ActivateExtension(ctx, info("test.slow", writeEntry(t, "slow.lua", `
exthost.on_will_run_file_operation(function(op, files)
  exthost.kv_get("anything")
  return { { path = files[1].target, new_text = "late" } }
end)
`)))
	require.NoError(t, err)

	edits, err := host.WillRunFileOperation(ctx, exthost.FileCreate, []exthost.FileChange{{Target: "/new.ts"}})
	require.NoError(t, err)
	require.Len(t, edits, 1)
	assert.Equal(t, "late", edits[0].NewText)
	assert.Contains(t, buf.String(), "file operation participant is slow")
	assert.Contains(t, buf.String(), "test.slow")
}

func TestHost_WillRunFileOperationCancelled(t *testing.T) {
	host := extlua.NewHost(exthost.KindNode)
	defer closeHost(t, host)

	_, err := host.ActivateExtension(context.Background(), info("test.edit", writeEntry(t, "edit.lua", `
exthost.on_will_run_file_operation(function() return { { path = "/x", new_text = "y" } } end)
`)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	edits, err := host.WillRunFileOperation(ctx, exthost.FileDelete, []exthost.FileChange{{Target: "/x"}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, edits)
}

func TestHost_ClosedHostRejectsActivation(t *testing.T) {
	ctx := context.Background()
	host := extlua.NewHost(exthost.KindNode)
	require.NoError(t, host.Close(ctx))
	require.NoError(t, host.Close(ctx), "close must be idempotent")

	_, err := host.ActivateExtension(ctx, info("test.greeter", writeEntry(t, "main.lua", greeter)))
	errutil.AssertErrorCode(t, err, extlua.CodeHostClosed)
}

func TestHost_ConcurrentCommandsAreSerializedPerExtension(t *testing.T) {
	ctx := context.Background()
	host := extlua.NewHost(exthost.KindNode)
	defer closeHost(t, host)

	_, err := host.ActivateExtension(ctx, info("test.counter", writeEntry(t, "main.lua", `
local n = 0
exthost.register_command("counter.inc", function() n = n + 1; return n end)
`)))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = host.ExecuteCommand(ctx, "counter.inc", nil)
		}()
	}
	wg.Wait()

	got, err := host.ExecuteCommand(ctx, "counter.inc", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(51), got)
}

func TestRuntime_StartStop(t *testing.T) {
	ctx := context.Background()
	rt := extlua.NewRuntime(exthost.KindWorker)

	proxy, err := rt.Start(ctx, func(error) { t.Error("in-process host must not exit") })
	require.NoError(t, err)

	ids, err := proxy.ActivatedExtensions(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, rt.Stop(ctx))
	require.NoError(t, rt.Stop(ctx))

	_, err = proxy.ActivateExtension(ctx, extension.Info{ID: "x", WorkerMain: "/nowhere.lua"})
	errutil.AssertErrorCode(t, err, extlua.CodeHostClosed)
}
