package testmodule

import (
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/require"
)

func mustEval(t *testing.T, src string) *goja.Object {
	t.Helper()
	vm := goja.New()
	v, err := vm.RunString("(" + src + ")")
	require.NoError(t, err)
	obj, ok := v.(*goja.Object)
	require.True(t, ok)
	return obj
}

func TestDecodeTest_FixtureArityDetection(t *testing.T) {
	obj := mustEval(t, `({
		meta: { id: "t1", type: "steps" },
		steps: [{ name: "s1", run: function(ctx, state) {} }],
		fixtures: {
			simple: function(ctx) { return {}; },
			lifecycle: function(ctx, use) { return use({}); }
		}
	})`)
	meta := obj.Get("meta").(*goja.Object)

	desc, err := decodeTest(obj, meta)
	require.NoError(t, err)

	byName := map[string]Fixture{}
	for _, f := range desc.Fixtures {
		byName[f.Name] = f
	}
	require.Equal(t, FixtureSimple, byName["simple"].Arity)
	require.Equal(t, FixtureLifecycle, byName["lifecycle"].Arity)
}

func TestDecodeTest_StepsWithoutArrayIsError(t *testing.T) {
	obj := mustEval(t, `({ meta: { id: "t1", type: "steps" } })`)
	meta := obj.Get("meta").(*goja.Object)

	_, err := decodeTest(obj, meta)
	require.Error(t, err)
}

func TestDecodeTest_UnknownShapeIsError(t *testing.T) {
	obj := mustEval(t, `({ meta: { id: "t1", type: "bogus" }, run: function(ctx) {} })`)
	meta := obj.Get("meta").(*goja.Object)

	_, err := decodeTest(obj, meta)
	require.Error(t, err)
}

func TestDecodeTest_DefaultsShapeToSimpleWhenTypeOmitted(t *testing.T) {
	obj := mustEval(t, `({ meta: { id: "t1" }, run: function(ctx) {} })`)
	meta := obj.Get("meta").(*goja.Object)

	desc, err := decodeTest(obj, meta)
	require.NoError(t, err)
	require.Equal(t, ShapeSimple, desc.Shape)
}

func TestDecodeTest_StepRetriesDefaultToTestRetries(t *testing.T) {
	obj := mustEval(t, `({
		meta: { id: "t1", type: "steps", retries: 3 },
		steps: [
			{ name: "s1", run: function(ctx, state) {} },
			{ name: "s2", run: function(ctx, state) {}, retries: 0 }
		]
	})`)
	meta := obj.Get("meta").(*goja.Object)

	desc, err := decodeTest(obj, meta)
	require.NoError(t, err)
	require.Equal(t, 3, desc.Steps[0].Retries)
	require.Equal(t, 0, desc.Steps[1].Retries)
}

func TestDescriptor_Validate(t *testing.T) {
	require.Error(t, Descriptor{}.Validate())
	require.Error(t, Descriptor{ID: "t1", Shape: ShapeSteps}.Validate())
	require.Error(t, Descriptor{ID: "t1", Shape: ShapeSimple, Retries: -1}.Validate())
	require.NoError(t, Descriptor{ID: "t1", Shape: ShapeSimple}.Validate())
}
