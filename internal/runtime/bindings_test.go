package runtime

import (
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/require"

	"github.com/glubean/glubean/internal/eventlog"
)

func newInstalledVM(t *testing.T, ctx *Context) (*goja.Runtime, *goja.Object) {
	t.Helper()
	vm := goja.New()
	obj, err := Install(vm, ctx)
	require.NoError(t, err)
	require.NoError(t, vm.Set("ctx", obj))
	return vm, obj
}

func TestInstall_ConsoleLogRoutesThroughCtxLog(t *testing.T) {
	emitter := &recordingEmitter{}
	ctx := NewContext(nil, nil, 0, emitter, nil)
	vm, _ := newInstalledVM(t, ctx)

	_, err := vm.RunString(`console.log("hello", "world")`)
	require.NoError(t, err)

	require.Len(t, emitter.events, 1)
	ev := emitter.events[0].(eventlog.Log)
	require.Equal(t, "hello world", ev.Message)
}

func TestInstall_CtxVarsAndSecretsNamespaces(t *testing.T) {
	emitter := &recordingEmitter{}
	ctx := NewContext(map[string]string{"name": "ada"}, map[string]string{"token": "secret"}, 0, emitter, nil)
	vm, _ := newInstalledVM(t, ctx)

	v, err := vm.RunString(`ctx.vars.get("name")`)
	require.NoError(t, err)
	require.Equal(t, "ada", v.String())

	v, err = vm.RunString(`ctx.secrets.get("token")`)
	require.NoError(t, err)
	require.Equal(t, "secret", v.String())

	v, err = vm.RunString(`ctx.vars.get("missing")`)
	require.NoError(t, err)
	require.True(t, goja.IsUndefined(v))

	v, err = vm.RunString(`JSON.stringify(ctx.vars.all())`)
	require.NoError(t, err)
	require.Equal(t, `{"name":"ada"}`, v.String())
}

func TestInstall_CtxVarsRequireMissingPanicsIntoJSError(t *testing.T) {
	emitter := &recordingEmitter{}
	ctx := NewContext(nil, nil, 0, emitter, nil)
	vm, _ := newInstalledVM(t, ctx)

	_, err := vm.RunString(`ctx.vars.require("missing")`)
	require.Error(t, err)
}

func TestInstall_CtxAssertAndExpect(t *testing.T) {
	emitter := &recordingEmitter{}
	ctx := NewContext(nil, nil, 0, emitter, nil)
	vm, _ := newInstalledVM(t, ctx)

	_, err := vm.RunString(`ctx.assert(1 === 1, "math works")`)
	require.NoError(t, err)
	_, err = vm.RunString(`ctx.expect(2).toEqual(2)`)
	require.NoError(t, err)
	_, err = vm.RunString(`ctx.expect(2).not().toEqual(3)`)
	require.NoError(t, err)

	require.Len(t, emitter.events, 3)
	for _, ev := range emitter.events {
		require.True(t, ev.(eventlog.Assertion).Passed)
	}
}

func TestInstall_CtxAssertRecordShape(t *testing.T) {
	emitter := &recordingEmitter{}
	ctx := NewContext(nil, nil, 0, emitter, nil)
	vm, _ := newInstalledVM(t, ctx)

	_, err := vm.RunString(`ctx.assert({ passed: true, actual: 1, expected: 1 }, "matches")`)
	require.NoError(t, err)
	require.Len(t, emitter.events, 1)
	passed := emitter.events[0].(eventlog.Assertion)
	require.True(t, passed.Passed)
	require.Equal(t, float64(1), passed.Actual)
	require.Equal(t, float64(1), passed.Expected)

	// A failing result record must be recorded as a failed assertion. goja's
	// ToBoolean() on any non-null object is always true, so this is the exact
	// shape that would silently pass if the binding fell through to it.
	_, err = vm.RunString(`ctx.assert({ passed: false, actual: 1, expected: 2 }, "mismatch")`)
	require.NoError(t, err)
	require.Len(t, emitter.events, 2)
	failed := emitter.events[1].(eventlog.Assertion)
	require.False(t, failed.Passed)
	require.Equal(t, float64(1), failed.Actual)
	require.Equal(t, float64(2), failed.Expected)
}

func TestInstall_CtxSkipAndFailThrowGoErrors(t *testing.T) {
	emitter := &recordingEmitter{}
	ctx := NewContext(nil, nil, 0, emitter, nil)
	vm, _ := newInstalledVM(t, ctx)

	_, err := vm.RunString(`ctx.skip("not applicable")`)
	require.Error(t, err)

	_, err = vm.RunString(`ctx.fail("boom")`)
	require.Error(t, err)
}

func TestInstall_CtxSetTimeoutRejectsInvalidValues(t *testing.T) {
	emitter := &recordingEmitter{}
	ctx := NewContext(nil, nil, 0, emitter, nil)
	vm, _ := newInstalledVM(t, ctx)

	_, err := vm.RunString(`ctx.setTimeout(5000)`)
	require.NoError(t, err)
	require.Len(t, emitter.events, 1)
	require.Equal(t, 5000.0, emitter.events[0].(eventlog.TimeoutUpdate).Timeout)

	_, err = vm.RunString(`ctx.setTimeout(-1)`)
	require.Error(t, err)

	_, err = vm.RunString(`ctx.setTimeout(NaN)`)
	require.Error(t, err)
}

func TestInstall_CtxPollUntilResolvesOnTruthyReturn(t *testing.T) {
	emitter := &recordingEmitter{}
	ctx := NewContext(nil, nil, 0, emitter, nil)
	vm, _ := newInstalledVM(t, ctx)

	_, err := vm.RunString(`
		var n = 0;
		ctx.pollUntil(function() { n++; return n >= 2; }, { timeout: 1000, interval: 1 });
	`)
	require.NoError(t, err)
}

func TestInstall_CtxHTTPAbsentWhenNoClientConfigured(t *testing.T) {
	emitter := &recordingEmitter{}
	ctx := NewContext(nil, nil, 0, emitter, nil)
	vm, _ := newInstalledVM(t, ctx)

	v, err := vm.RunString(`typeof ctx.http`)
	require.NoError(t, err)
	require.Equal(t, "undefined", v.String())
}

func TestInstall_PreludeTestHelperShapesMetaAndDefaults(t *testing.T) {
	emitter := &recordingEmitter{}
	ctx := NewContext(nil, nil, 0, emitter, nil)
	vm, _ := newInstalledVM(t, ctx)

	v, err := vm.RunString(`
		var t = test({ meta: { id: "t1" }, run: function(ctx) {} });
		JSON.stringify({ id: t.meta.id, type: t.meta.type, hasRun: typeof t.run === "function" });
	`)
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"t1","type":"simple","hasRun":true}`, v.String())
}

func TestInstall_PreludeStepsHelperForcesStepsType(t *testing.T) {
	emitter := &recordingEmitter{}
	ctx := NewContext(nil, nil, 0, emitter, nil)
	vm, _ := newInstalledVM(t, ctx)

	v, err := vm.RunString(`
		var s = steps({ meta: { id: "s1", type: "simple" }, steps: [{ name: "a", run: function(){} }] });
		s.meta.type;
	`)
	require.NoError(t, err)
	require.Equal(t, "steps", v.String())
}

func TestInstall_PreludeBuilderAndConfigureMarkers(t *testing.T) {
	emitter := &recordingEmitter{}
	ctx := NewContext(nil, nil, 0, emitter, nil)
	vm, _ := newInstalledVM(t, ctx)

	v, err := vm.RunString(`
		var b = builder(function() { return 1; });
		var c = configure(function() { return 2; });
		JSON.stringify({ bKind: b.__glubeanKind, cKind: c.__glubeanKind, bBuild: b.build(), cBuild: c.build() });
	`)
	require.NoError(t, err)
	require.JSONEq(t, `{"bKind":"builder","cKind":"builder","bBuild":1,"cBuild":2}`, v.String())
}
