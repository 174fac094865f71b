// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package service_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/holomush/exthost/internal/activation"
	"github.com/holomush/exthost/internal/command"
	"github.com/holomush/exthost/internal/eventbus"
	"github.com/holomush/exthost/internal/extension"
	"github.com/holomush/exthost/internal/extension/extensiontest"
	"github.com/holomush/exthost/internal/exthost"
	"github.com/holomush/exthost/internal/exthost/exthosttest"
	"github.com/holomush/exthost/internal/extstorage"
	"github.com/holomush/exthost/internal/reload"
	"github.com/holomush/exthost/internal/service"
	"github.com/holomush/exthost/pkg/errutil"
)

type fakeScanner struct {
	mu    sync.Mutex
	calls int
	mds   []extension.Metadata
	err   error
}

func (f *fakeScanner) GetAllExtensions(context.Context, []string, []string, string, map[string]string) ([]extension.Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.mds, f.err
}

func (f *fakeScanner) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeClient struct {
	mu      sync.Mutex
	reloads int
}

func (c *fakeClient) Reload(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reloads++
	return nil
}

func (c *fakeClient) Reloads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reloads
}

type fixture struct {
	svc       *service.Service
	scanner   *fakeScanner
	node      *exthosttest.Runtime
	nodeProxy *exthosttest.Proxy
	worker    *exthosttest.Runtime
	client    *fakeClient
}

// standardExtensions returns an eager extension, one activated by the json
// language, and one activated lazily by its contributed command.
func standardExtensions(t *testing.T) []extension.Metadata {
	t.Helper()
	return []extension.Metadata{
		extensiontest.Metadata(t, "eager", extensiontest.Manifest{
			"main":             "main.lua",
			"activationEvents": []string{"*"},
		}),
		extensiontest.Metadata(t, "json", extensiontest.Manifest{
			"main":             "main.lua",
			"activationEvents": []string{"onLanguage:json"},
		}),
		extensiontest.Metadata(t, "lazy", extensiontest.Manifest{
			"main":             "main.lua",
			"activationEvents": []string{"onCommand:lazy.run"},
			"contributes": map[string]any{
				"commands": []map[string]any{{"command": "lazy.run", "title": "Run"}},
			},
		}),
	}
}

func newFixture(t *testing.T, mds []extension.Metadata, configure ...func(*service.Config, *service.Deps)) *fixture {
	t.Helper()

	nodeProxy := exthosttest.NewProxy()
	nodeProxy.Commands["test.eager"] = []string{"eager.hello"}
	nodeProxy.Commands["test.lazy"] = []string{"lazy.run"}

	f := &fixture{
		scanner:   &fakeScanner{mds: mds},
		node:      &exthosttest.Runtime{Proxy: nodeProxy},
		nodeProxy: nodeProxy,
		worker:    &exthosttest.Runtime{},
		client:    &fakeClient{},
	}

	cfg := service.Config{ScanDir: "/extensions", ExtWorkerHost: true}
	deps := service.Deps{
		Scanner:       f.scanner,
		NodeRuntime:   f.node,
		WorkerRuntime: f.worker,
		Client:        f.client,
	}
	for _, fn := range configure {
		fn(&cfg, &deps)
	}

	svc, err := service.New(cfg, deps)
	require.NoError(t, err)
	f.svc = svc
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return f
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := service.New(service.Config{}, service.Deps{NodeRuntime: &exthosttest.Runtime{}})
	errutil.AssertErrorCode(t, err, service.CodeMissingDependency)

	_, err = service.New(service.Config{}, service.Deps{Scanner: &fakeScanner{}})
	errutil.AssertErrorCode(t, err, service.CodeMissingDependency)

	_, err = service.New(service.Config{NoExtHost: true}, service.Deps{Scanner: &fakeScanner{}})
	require.NoError(t, err)
}

func TestActivate_BootSequence(t *testing.T) {
	f := newFixture(t, standardExtensions(t))
	ctx := context.Background()

	apiReady := f.svc.Broadcasts().Subscribe(eventbus.TopicAPIReady)
	beforeActivate := f.svc.Broadcasts().Subscribe(eventbus.TopicBeforeActivate)

	require.NoError(t, f.svc.Activate(ctx))

	assert.True(t, f.svc.Ready())
	assert.Equal(t, exthost.StateReady, f.svc.Node().State())
	assert.Equal(t, exthost.StateReady, f.svc.Worker().State())
	assert.Equal(t, map[string]string{"node": "ready", "worker": "ready"}, f.svc.HostStates())

	assert.Equal(t, []string{"test.eager"}, f.nodeProxy.Activated(), "only the eager extension activates at boot")
	assert.Equal(t, []string{"test.eager", "test.json", "test.lazy"}, f.nodeProxy.LastUpdate())
	assert.True(t, f.svc.Bus().Has(activation.TopicEager))
	assert.True(t, f.svc.Bus().Has(activation.TopicStartupFinished))

	_, ok := f.svc.Commands().Get("lazy.run")
	assert.True(t, ok, "contributed command is registered")

	for _, ch := range []chan eventbus.Event{beforeActivate, apiReady} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("expected broadcast")
		}
	}
}

func TestActivate_DiscoveryIsCached(t *testing.T) {
	f := newFixture(t, standardExtensions(t))
	ctx := context.Background()

	require.NoError(t, f.svc.Activate(ctx))
	require.NoError(t, f.svc.RestartExtProcess(ctx))
	assert.Equal(t, 1, f.scanner.Calls())
}

func TestActivate_DiscoveryFailureIsFatal(t *testing.T) {
	f := newFixture(t, nil)
	f.scanner.err = errors.New("permission denied")

	err := f.svc.Activate(context.Background())
	require.Error(t, err)
	assert.Zero(t, f.node.Starts(), "hosts must not start")

	eager := f.svc.EagerExtensionsActivated()
	assert.True(t, eager.Settled())
	assert.Error(t, eager.Err())
	assert.False(t, f.svc.Ready())
}

func TestActivate_NodeFailureIsFatal(t *testing.T) {
	f := newFixture(t, standardExtensions(t))
	f.node.SetStartErr(errors.New("exec format error"))

	err := f.svc.Activate(context.Background())
	errutil.AssertErrorCode(t, err, exthost.CodeHostLaunchFailed)
	assert.False(t, f.svc.Ready())
}

func TestActivate_WorkerFailureIsTolerated(t *testing.T) {
	f := newFixture(t, standardExtensions(t))
	f.worker.SetStartErr(errors.New("worker unavailable"))

	require.NoError(t, f.svc.Activate(context.Background()))

	eager := f.svc.EagerExtensionsActivated()
	require.True(t, eager.Settled())
	require.NoError(t, eager.Err())
	assert.Equal(t, exthost.StateReady, f.svc.Node().State())
	assert.Equal(t, []string{"test.eager"}, f.nodeProxy.Activated())
}

func TestActivate_InvalidExtensionIsExcluded(t *testing.T) {
	mds := standardExtensions(t)
	bad := extensiontest.Metadata(t, "bad", nil)
	bad.PackageJSON = []byte(`{"name": "Not Valid", "version": "1.0.0"}`)
	mds = append(mds, bad)

	f := newFixture(t, mds)
	require.NoError(t, f.svc.Activate(context.Background()))
	assert.Equal(t, 3, f.svc.Registry().Len())
}

func TestActivate_NoExtHost(t *testing.T) {
	f := newFixture(t, standardExtensions(t), func(cfg *service.Config, _ *service.Deps) {
		cfg.NoExtHost = true
		cfg.ExtWorkerHost = false
	})

	require.NoError(t, f.svc.Activate(context.Background()))
	assert.Nil(t, f.svc.Node())
	assert.Empty(t, f.svc.HostStates())
	assert.True(t, f.svc.Ready())
	assert.Zero(t, f.node.Starts())
}

func TestExecuteCommand_ActivatesLazily(t *testing.T) {
	f := newFixture(t, standardExtensions(t))
	ctx := context.Background()
	require.NoError(t, f.svc.Activate(ctx))
	require.NotContains(t, f.nodeProxy.Activated(), "test.lazy")

	result, err := f.svc.ExecuteCommand(ctx, "lazy.run", "arg")
	require.NoError(t, err)
	assert.Equal(t, "lazy.run", result)
	assert.Contains(t, f.nodeProxy.Activated(), "test.lazy")
	assert.True(t, f.svc.Bus().Has("onCommand:lazy.run"))
}

func TestExecuteCommand_RegisteredAtActivation(t *testing.T) {
	f := newFixture(t, standardExtensions(t))
	ctx := context.Background()
	require.NoError(t, f.svc.Activate(ctx))

	result, err := f.svc.ExecuteCommand(ctx, "eager.hello")
	require.NoError(t, err)
	assert.Equal(t, "eager.hello", result)
}

func TestExecuteExtensionCommand_UnknownFailsImmediately(t *testing.T) {
	f := newFixture(t, standardExtensions(t))

	// Hosts have not started; an unknown command must not wait for them.
	_, err := f.svc.ExecuteExtensionCommand(context.Background(), "nobody.owns", nil)
	errutil.AssertErrorCode(t, err, command.CodeUnknownExtensionCommand)
}

// A crash re-arms readiness; a command for the crashed host waits until the
// confirmed restart has the host ready again.
func TestCrash_CommandWaitsForConfirmedRestart(t *testing.T) {
	answer := make(chan reload.Choice)
	stop := make(chan struct{})
	prompter := reload.PrompterFunc(func(context.Context, reload.Prompt) (reload.Choice, error) {
		select {
		case c := <-answer:
			return c, nil
		case <-stop:
			return reload.ChoiceDismissed, nil
		}
	})

	f := newFixture(t, standardExtensions(t), func(_ *service.Config, deps *service.Deps) {
		deps.Reload = reload.NewDecider(reload.PolicyAlways, prompter)
	})
	t.Cleanup(func() { close(stop) })
	ctx := context.Background()

	require.NoError(t, f.svc.Activate(ctx))
	_, err := f.svc.ExecuteCommand(ctx, "lazy.run")
	require.NoError(t, err)

	before := testutil.ToFloat64(service.Restarts.WithLabelValues(service.OutcomeSuccess))

	f.node.Crash(errors.New("signal: killed"))
	assert.Equal(t, exthost.StateCrashed, f.svc.Node().State())

	done := make(chan any, 1)
	go func() {
		result, err := f.svc.ExecuteExtensionCommand(ctx, "lazy.run", nil)
		if err != nil {
			done <- err
			return
		}
		done <- result
	}()

	select {
	case got := <-done:
		t.Fatalf("command finished before the host recovered: %v", got)
	case <-time.After(50 * time.Millisecond):
	}

	answer <- reload.ChoiceConfirm

	select {
	case got := <-done:
		assert.Equal(t, "lazy.run", got)
	case <-time.After(2 * time.Second):
		t.Fatal("command did not run after restart")
	}

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(service.Restarts.WithLabelValues(service.OutcomeSuccess)) == before+1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, f.node.Starts())
	assert.Equal(t, exthost.StateReady, f.svc.Node().State())
}

// A command waiting on a crashed host is released only after the restart has
// replayed the activation that registers it in the new process.
func TestCrash_WaitingCommandRunsAfterReplay(t *testing.T) {
	answer := make(chan reload.Choice, 1)
	prompter := reload.PrompterFunc(func(ctx context.Context, _ reload.Prompt) (reload.Choice, error) {
		select {
		case c := <-answer:
			return c, nil
		case <-ctx.Done():
			return reload.ChoiceDismissed, ctx.Err()
		}
	})
	f := newFixture(t, standardExtensions(t), func(_ *service.Config, deps *service.Deps) {
		deps.Reload = reload.NewDecider(reload.PolicyAlways, prompter)
	})
	ctx := context.Background()

	require.NoError(t, f.svc.Activate(ctx))
	_, err := f.svc.ExecuteCommand(ctx, "lazy.run")
	require.NoError(t, err)

	replaying := make(chan struct{})
	resume := make(chan struct{})
	var once, resumed sync.Once
	unblock := func() { resumed.Do(func() { close(resume) }) }
	t.Cleanup(unblock)
	f.nodeProxy.BeforeActivate = func(id string) {
		if id != "test.lazy" {
			return
		}
		once.Do(func() {
			close(replaying)
			<-resume
		})
	}

	f.node.Crash(errors.New("signal: killed"))

	done := make(chan any, 1)
	go func() {
		result, err := f.svc.ExecuteExtensionCommand(ctx, "lazy.run", nil)
		if err != nil {
			done <- err
			return
		}
		done <- result
	}()
	select {
	case got := <-done:
		t.Fatalf("command finished while the host was down: %v", got)
	case <-time.After(50 * time.Millisecond):
	}
	answer <- reload.ChoiceConfirm

	select {
	case <-replaying:
	case <-time.After(2 * time.Second):
		t.Fatal("restart never replayed onCommand:lazy.run")
	}
	assert.Equal(t, exthost.StateReady, f.svc.Node().State(), "host is up while replay runs")

	select {
	case got := <-done:
		t.Fatalf("command ran before replay finished: %v", got)
	case <-time.After(50 * time.Millisecond):
	}

	unblock()

	select {
	case got := <-done:
		assert.Equal(t, "lazy.run", got)
	case <-time.After(2 * time.Second):
		t.Fatal("command did not run after replay")
	}
	assert.Equal(t, []string{"lazy.run", "lazy.run"}, f.nodeProxy.Executed())
}

func TestCrash_DeclinedRestartLeavesHostDown(t *testing.T) {
	prompted := make(chan struct{}, 1)
	prompter := reload.PrompterFunc(func(context.Context, reload.Prompt) (reload.Choice, error) {
		prompted <- struct{}{}
		return reload.ChoiceCancel, nil
	})
	f := newFixture(t, standardExtensions(t), func(_ *service.Config, deps *service.Deps) {
		deps.Reload = reload.NewDecider(reload.PolicyIfRequired, prompter)
	})
	require.NoError(t, f.svc.Activate(context.Background()))

	f.node.Crash(errors.New("exit status 2"))

	select {
	case <-prompted:
	case <-time.After(time.Second):
		t.Fatal("expected a prompt")
	}
	require.NoError(t, f.svc.Close(context.Background()))
	assert.Equal(t, 1, f.node.Starts())
}

func TestCrash_MissingExecutableReloadsClient(t *testing.T) {
	f := newFixture(t, standardExtensions(t))
	require.NoError(t, f.svc.Activate(context.Background()))

	f.node.Crash(errors.Join(errors.New("host process exited"), exthost.ErrProcessNotExist))

	require.Eventually(t, func() bool { return f.client.Reloads() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, f.node.Starts(), "no restart is attempted")
	assert.Equal(t, exthost.StateCrashed, f.svc.Node().State())
}

func TestCrash_FailedRestartReloadsClient(t *testing.T) {
	f := newFixture(t, standardExtensions(t))
	require.NoError(t, f.svc.Activate(context.Background()))

	f.node.SetStartErr(exthost.ErrProcessNotExist)
	f.node.Crash(errors.New("signal: killed"))

	require.Eventually(t, func() bool { return f.client.Reloads() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, f.node.Starts())
}

func TestRestartExtProcess_ReplaysHistory(t *testing.T) {
	f := newFixture(t, standardExtensions(t))
	ctx := context.Background()

	require.NoError(t, f.svc.Activate(ctx))
	require.NoError(t, f.svc.Bus().FireEvent(ctx, activation.TopicLanguage, "json"))

	keys := func() []string {
		var out []string
		for _, r := range f.svc.Bus().Records() {
			out = append(out, r.Key())
		}
		return out
	}
	history := keys()

	require.NoError(t, f.svc.RestartExtProcess(ctx))

	activated := f.nodeProxy.Activated()
	count := func(id string) int {
		return len(slices.DeleteFunc(slices.Clone(activated), func(s string) bool { return s != id }))
	}
	assert.Equal(t, 2, count("test.eager"), "eager re-activated by replay")
	assert.Equal(t, 2, count("test.json"), "json re-activated by replay")
	assert.Zero(t, count("test.lazy"), "never-fired events are not emitted")
	assert.Equal(t, history, keys(), "replay adds no records")

	assert.Equal(t, 2, f.node.Starts())
	assert.Equal(t, 1, f.node.Stops())
	assert.Equal(t, uint64(1), f.svc.Bus().Generation())
	assert.Equal(t, 3, f.svc.Registry().Len())
}

func TestEnableExtension_SelectiveReplay(t *testing.T) {
	store := extstorage.NewMemory()
	require.NoError(t, store.Load(context.Background()))
	require.NoError(t, store.SetEnabled(context.Background(), "test.late", false))

	mds := append(standardExtensions(t), extensiontest.Metadata(t, "late", extensiontest.Manifest{
		"main":             "main.lua",
		"activationEvents": []string{"onLanguage:go", "onLanguage:json"},
	}))
	f := newFixture(t, mds, func(_ *service.Config, deps *service.Deps) {
		deps.Storage = store
	})
	ctx := context.Background()

	require.NoError(t, f.svc.Activate(ctx))
	require.NoError(t, f.svc.Bus().FireEvent(ctx, activation.TopicLanguage, "json"))
	require.NotContains(t, f.nodeProxy.Activated(), "test.late")

	require.NoError(t, f.svc.EnableExtension(ctx, "test.late"))

	assert.Contains(t, f.nodeProxy.Activated(), "test.late")
	assert.False(t, f.svc.Bus().Has("onLanguage:go"), "events that never fired are not fired on enable")
	assert.True(t, store.IsEnabled("test.late"))

	errutil.AssertErrorCode(t, f.svc.EnableExtension(ctx, "test.missing"), service.CodeExtensionNotFound)
}

func TestEnableExtension_FiresStartupEvents(t *testing.T) {
	store := extstorage.NewMemory()
	require.NoError(t, store.Load(context.Background()))
	require.NoError(t, store.SetEnabled(context.Background(), "test.startup", false))

	mds := append(standardExtensions(t), extensiontest.Metadata(t, "startup", extensiontest.Manifest{
		"main":             "main.lua",
		"activationEvents": []string{"onStartupFinished"},
	}))
	f := newFixture(t, mds, func(_ *service.Config, deps *service.Deps) {
		deps.Storage = store
	})
	ctx := context.Background()

	require.NoError(t, f.svc.Activate(ctx))
	require.NotContains(t, f.nodeProxy.Activated(), "test.startup")

	require.NoError(t, f.svc.EnableExtension(ctx, "test.startup"))
	assert.Contains(t, f.nodeProxy.Activated(), "test.startup")
}

func TestDisableExtension(t *testing.T) {
	f := newFixture(t, standardExtensions(t))
	ctx := context.Background()
	require.NoError(t, f.svc.Activate(ctx))

	require.NoError(t, f.svc.DisableExtension(ctx, "test.json"))
	require.NoError(t, f.svc.Bus().FireEvent(ctx, activation.TopicLanguage, "json"))
	assert.NotContains(t, f.nodeProxy.Activated(), "test.json")

	updates := f.nodeProxy.Updates()
	last := updates[len(updates)-1]
	for _, info := range last {
		if info.ID == "test.json" {
			assert.False(t, info.Enabled)
		}
	}
}

func TestOnExtensionRemoved_PublishesUninstalled(t *testing.T) {
	f := newFixture(t, standardExtensions(t))
	ctx := context.Background()
	require.NoError(t, f.svc.Activate(ctx))

	uninstalled := f.svc.Broadcasts().Subscribe(eventbus.TopicExtensionUninstalled)
	f.svc.OnExtensionRemoved(ctx, "/extensions/unknown")
	f.svc.OnExtensionRemoved(ctx, "/extensions/json")

	select {
	case ev := <-uninstalled:
		assert.Equal(t, "/extensions/json", ev.Subject)
	case <-time.After(time.Second):
		t.Fatal("expected uninstalled broadcast")
	}
	f.svc.Broadcasts().Wait()

	ext, ok := f.svc.Registry().GetExtension("test.json")
	require.True(t, ok, "uninstalled instances stay in the registry")
	assert.False(t, ext.Enabled())
}

func TestProcessNotExist(t *testing.T) {
	tests := []struct {
		name        string
		policy      reload.Policy
		choice      reload.Choice
		wantReloads int
	}{
		{"never asks", reload.PolicyNever, "", 1},
		{"always confirmed", reload.PolicyAlways, reload.ChoiceConfirm, 1},
		{"if required cancelled", reload.PolicyIfRequired, reload.ChoiceCancel, 0},
		{"dismissed", reload.PolicyAlways, reload.ChoiceDismissed, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prompter := reload.PrompterFunc(func(context.Context, reload.Prompt) (reload.Choice, error) {
				return tt.choice, nil
			})
			f := newFixture(t, nil, func(_ *service.Config, deps *service.Deps) {
				deps.Reload = reload.NewDecider(tt.policy, prompter)
			})

			require.NoError(t, f.svc.ProcessNotExist(context.Background()))
			assert.Equal(t, tt.wantReloads, f.client.Reloads())
		})
	}
}

func TestWillRunFileOperation_MergesHosts(t *testing.T) {
	f := newFixture(t, standardExtensions(t))
	f.nodeProxy.Edits = []exthost.FileEdit{{Path: "/a.txt", NewText: "a", Extension: "test.eager"}}
	workerProxy := exthosttest.NewProxy()
	workerProxy.Edits = []exthost.FileEdit{{Path: "/b.txt", NewText: "b", Extension: "test.worker"}}
	f.worker.Proxy = workerProxy
	ctx := context.Background()

	edits, err := f.svc.WillRunFileOperation(ctx, exthost.FileCreate, []exthost.FileChange{{Target: "/a.txt"}})
	require.NoError(t, err)
	assert.Empty(t, edits, "hosts that are not running contribute nothing")

	require.NoError(t, f.svc.Activate(ctx))
	edits, err = f.svc.WillRunFileOperation(ctx, exthost.FileCreate, []exthost.FileChange{{Target: "/a.txt"}})
	require.NoError(t, err)
	require.Len(t, edits, 2)
	assert.Equal(t, "/a.txt", edits[0].Path, "node edits come first")
	assert.Equal(t, "/b.txt", edits[1].Path)
}

func TestGetActivatedExtensions(t *testing.T) {
	f := newFixture(t, standardExtensions(t))
	ctx := context.Background()
	require.NoError(t, f.svc.Activate(ctx))

	got, err := f.svc.GetActivatedExtensions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"test.eager"}, got[exthost.KindNode])
	assert.Empty(t, got[exthost.KindWorker], "no extension has a worker entry")
}

func TestClose_StopsHostsAndIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t, standardExtensions(t))
	ctx := context.Background()
	require.NoError(t, f.svc.Activate(ctx))

	require.NoError(t, f.svc.Close(ctx))
	require.NoError(t, f.svc.Close(ctx))

	assert.Equal(t, exthost.StateDisposed, f.svc.Node().State())
	assert.Equal(t, 1, f.node.Stops())
	errutil.AssertErrorCode(t, f.svc.Activate(ctx), service.CodeServiceClosed)
}
