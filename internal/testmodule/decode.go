package testmodule

import (
	"fmt"

	"github.com/dop251/goja"
)

// decodeTest converts a built JS test object (and its already-located meta
// object) into a Descriptor. The JS-side contract:
//
//	{
//	  meta: { id, name?, tags?, type: "simple"|"steps", skip?, only?,
//	          timeoutMs?, retries? },
//	  run(ctx)                      // simple-variant body
//	  steps: [{ name, run(ctx, state), retries?, timeoutMs? }, ...],
//	  setup(ctx)?, teardown(ctx, state)?,
//	  fixtures: { name: factory(ctx) | factory(ctx, use) }
//	}
func decodeTest(obj, meta *goja.Object) (Descriptor, error) {
	d := Descriptor{
		ID:        stringProp(meta, "id"),
		Name:      stringProp(meta, "name"),
		Tags:      stringSliceProp(meta, "tags"),
		Shape:     Shape(stringProp(meta, "type")),
		Skip:      boolProp(meta, "skip"),
		Only:      boolProp(meta, "only"),
		TimeoutMs: intProp(meta, "timeoutMs"),
		Retries:   intProp(meta, "retries"),
	}
	if d.Shape == "" {
		d.Shape = ShapeSimple
	}

	switch d.Shape {
	case ShapeSimple:
		run, ok := goja.AssertFunction(obj.Get("run"))
		if !ok {
			return Descriptor{}, fmt.Errorf("testmodule: test %q is missing a callable run()", d.ID)
		}
		d.Run = run
	case ShapeSteps:
		stepsVal := obj.Get("steps")
		stepsObj, ok := stepsVal.(*goja.Object)
		if !ok {
			return Descriptor{}, fmt.Errorf("testmodule: test %q declares type steps but has no steps array", d.ID)
		}
		steps, err := decodeSteps(stepsObj, d.Retries)
		if err != nil {
			return Descriptor{}, fmt.Errorf("testmodule: test %q: %w", d.ID, err)
		}
		d.Steps = steps

		if setup, ok := goja.AssertFunction(obj.Get("setup")); ok {
			d.Setup = setup
		}
		if teardown, ok := goja.AssertFunction(obj.Get("teardown")); ok {
			d.Teardown = teardown
		}
		if fixturesVal, ok := obj.Get("fixtures").(*goja.Object); ok {
			fixtures, err := decodeFixtures(fixturesVal)
			if err != nil {
				return Descriptor{}, fmt.Errorf("testmodule: test %q: %w", d.ID, err)
			}
			d.Fixtures = fixtures
		}
	default:
		return Descriptor{}, fmt.Errorf("testmodule: test %q has unknown shape %q", d.ID, d.Shape)
	}

	if err := d.Validate(); err != nil {
		return Descriptor{}, fmt.Errorf("testmodule: %w", err)
	}
	return d, nil
}

func decodeSteps(stepsObj *goja.Object, defaultRetries int) ([]StepDef, error) {
	length := int(stepsObj.Get("length").ToInteger())
	steps := make([]StepDef, 0, length)
	for i := 0; i < length; i++ {
		elem, ok := stepsObj.Get(fmt.Sprintf("%d", i)).(*goja.Object)
		if !ok {
			return nil, fmt.Errorf("step %d is not an object", i)
		}
		run, ok := goja.AssertFunction(elem.Get("run"))
		if !ok {
			return nil, fmt.Errorf("step %d is missing a callable run()", i)
		}
		retries := defaultRetries
		if v := elem.Get("retries"); v != nil && !goja.IsUndefined(v) {
			retries = int(v.ToInteger())
		}
		steps = append(steps, StepDef{
			Name:      stringProp(elem, "name"),
			Run:       run,
			Retries:   retries,
			TimeoutMs: intProp(elem, "timeoutMs"),
		})
	}
	return steps, nil
}

func decodeFixtures(fixturesObj *goja.Object) ([]Fixture, error) {
	var out []Fixture
	for _, name := range fixturesObj.Keys() {
		fn, ok := goja.AssertFunction(fixturesObj.Get(name))
		if !ok {
			return nil, fmt.Errorf("fixture %q is not callable", name)
		}
		arity := FixtureSimple
		if length := fixturesObj.Get(name).(*goja.Object).Get("length"); length != nil && !goja.IsUndefined(length) {
			if int(length.ToInteger()) >= 2 {
				arity = FixtureLifecycle
			}
		}
		out = append(out, Fixture{Name: name, Arity: arity, Factory: fn})
	}
	return out, nil
}

func stringSliceProp(obj *goja.Object, name string) []string {
	v := obj.Get(name)
	arr, ok := v.(*goja.Object)
	if !ok {
		return nil
	}
	length := int(arr.Get("length").ToInteger())
	out := make([]string, 0, length)
	for i := 0; i < length; i++ {
		out = append(out, arr.Get(fmt.Sprintf("%d", i)).String())
	}
	return out
}

func boolProp(obj *goja.Object, name string) bool {
	v := obj.Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return false
	}
	return v.ToBoolean()
}

func intProp(obj *goja.Object, name string) int {
	v := obj.Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return 0
	}
	return int(v.ToInteger())
}
