// goja VM wiring for the Context/HTTPClient surface, grounded on the
// teacher's own console/secrets injection in
// system/tee/script_engine.go's gojaScriptEngine.Execute: a handful of
// vm.NewObject()/Set(name, func(goja.FunctionCall) goja.Value) closures
// rather than reflection-based struct binding, so every JS-facing name and
// argument shape is explicit and independent of Go field names.
package runtime

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/glubean/glubean/internal/eventlog"
)

// prelude defines the JS-side constructor sugar (test/steps/builder/
// eachBuilder/configure) that produces objects matching the shape
// testmodule/decode.go's Resolver expects. There is no original_source/
// material for this surface (see DESIGN.md); it is authored directly
// against the Resolver's documented export shapes, in the same
// string-constant style as the teacher's own builtinFunctions prelude.
const prelude = `
function test(def) {
  var meta = Object.assign({ type: "simple" }, def.meta || {});
  return {
    meta: meta,
    run: def.run,
    steps: def.steps,
    setup: def.setup,
    teardown: def.teardown,
    fixtures: def.fixtures || {}
  };
}

function steps(def) {
  var meta = Object.assign({}, def.meta || {}, { type: "steps" });
  return {
    meta: meta,
    steps: def.steps || [],
    setup: def.setup,
    teardown: def.teardown,
    fixtures: def.fixtures || {}
  };
}

function builder(build) {
  return { __glubeanKind: "builder", build: build };
}

function eachBuilder(build) {
  return { __glubeanKind: "each-builder", build: build };
}

// configure() is kept only for authors migrating from a framework that
// handed out a global runtime slot; glubean injects ctx explicitly into
// every run()/setup()/steps[i].run()/fixture call instead, so configure()
// just defers fn() to build() time.
function configure(fn) {
  return builder(function() { return fn(); });
}
`

// Install loads the JS prelude into vm and binds a ctx object wired to the
// supplied Context (and its HTTPClient, if any), returning the value the
// harness passes as the first argument into run()/setup()/steps[i].run()/
// fixture factories.
func Install(vm *goja.Runtime, ctx *Context) (*goja.Object, error) {
	if _, err := vm.RunString(prelude); err != nil {
		return nil, fmt.Errorf("runtime: load prelude: %w", err)
	}

	console := vm.NewObject()
	_ = console.Set("log", func(call goja.FunctionCall) goja.Value {
		// console output never goes to the process's real stdout: that
		// channel is reserved for the NDJSON event stream (spec.md §4.5), so
		// it is routed through ctx.Log like any other log event.
		parts := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			parts[i] = a.String()
		}
		ctx.Log(strings.Join(parts, " "), nil)
		return goja.Undefined()
	})
	vm.Set("console", console)

	return buildContextObject(vm, ctx), nil
}

func buildContextObject(vm *goja.Runtime, ctx *Context) *goja.Object {
	obj := vm.NewObject()

	_ = obj.Set("vars", bindLookupNamespace(vm, ctx, true))
	_ = obj.Set("secrets", bindLookupNamespace(vm, ctx, false))

	_ = obj.Set("log", func(call goja.FunctionCall) goja.Value {
		ctx.Log(call.Argument(0).String(), exportOrNil(call.Argument(1)))
		return goja.Undefined()
	})

	_ = obj.Set("assert", func(call goja.FunctionCall) goja.Value {
		passed, details := decodeAssertCondition(call.Argument(0))
		if o, ok := call.Argument(2).(*goja.Object); ok {
			details.Actual = exportOrNil(o.Get("actual"))
			details.Expected = exportOrNil(o.Get("expected"))
		}
		ctx.Assert(passed, call.Argument(1).String(), details)
		return goja.Undefined()
	})

	_ = obj.Set("expect", func(call goja.FunctionCall) goja.Value {
		return bindExpectation(vm, ctx.Expect(exportOrNil(call.Argument(0))))
	})

	_ = obj.Set("warn", func(call goja.FunctionCall) goja.Value {
		ctx.Warn(call.Argument(0).ToBoolean(), call.Argument(1).String())
		return goja.Undefined()
	})

	_ = obj.Set("trace", func(call goja.FunctionCall) goja.Value {
		ctx.Trace(decodeTraceData(call.Argument(0)))
		return goja.Undefined()
	})

	_ = obj.Set("metric", func(call goja.FunctionCall) goja.Value {
		ctx.Metric(call.Argument(0).String(), call.Argument(1).ToFloat(), decodeMetricOpts(call.Argument(2)))
		return goja.Undefined()
	})

	_ = obj.Set("skip", func(call goja.FunctionCall) goja.Value {
		panic(vm.NewGoError(ctx.Skip(call.Argument(0).String())))
	})

	_ = obj.Set("fail", func(call goja.FunctionCall) goja.Value {
		panic(vm.NewGoError(ctx.Fail(call.Argument(0).String())))
	})

	_ = obj.Set("validate", func(call goja.FunctionCall) goja.Value {
		data := exportOrNil(call.Argument(0))
		schema := exportOrNil(call.Argument(1))
		opts := decodeValidateOpts(call.Argument(2))
		result, err := ctx.Validate(data, schema, opts)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(result)
	})

	_ = obj.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		ms := call.Argument(0).ToFloat()
		if math.IsNaN(ms) || math.IsInf(ms, 0) || ms < 0 {
			panic(vm.NewTypeError("setTimeout requires a finite, non-negative number of milliseconds"))
		}
		ctx.SetTimeout(ms)
		return goja.Undefined()
	})

	_ = obj.Set("pollUntil", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(vm.NewTypeError("pollUntil requires a function"))
		}
		opts, onTimeout := decodePollOpts(vm, call.Argument(1))
		opts.OnTimeout = onTimeout

		err := PollUntil(opts, func() (bool, error) {
			result, callErr := fn(goja.Undefined())
			if callErr != nil {
				return false, callErr
			}
			return result.ToBoolean(), nil
		})
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return goja.Undefined()
	})

	if ctx.http != nil {
		_ = obj.Set("http", bindHTTPClient(vm, ctx, ctx.http))
	}

	return obj
}

// bindLookupNamespace builds the ctx.vars / ctx.secrets sub-objects. Both
// read through Context.Get's three-layer lookup (vars map, then secrets
// map, then process environment); vars additionally exposes all(), since secrets are
// never snapshotted (spec.md §4.3).
func bindLookupNamespace(vm *goja.Runtime, ctx *Context, withAll bool) *goja.Object {
	ns := vm.NewObject()
	_ = ns.Set("get", func(call goja.FunctionCall) goja.Value {
		v, ok := ctx.Get(call.Argument(0).String())
		if !ok {
			return goja.Undefined()
		}
		return vm.ToValue(v)
	})
	_ = ns.Set("require", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		var validate ValidateFunc
		if fn, ok := goja.AssertFunction(call.Argument(1)); ok {
			validate = func(value string) (bool, string) {
				result, err := fn(goja.Undefined(), vm.ToValue(value))
				if err != nil {
					panic(err)
				}
				if result.ToBoolean() {
					return true, ""
				}
				return false, fmt.Sprintf("validation failed for %q", key)
			}
		}
		v, err := ctx.Require(key, validate)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(v)
	})
	if withAll {
		_ = ns.Set("all", func(call goja.FunctionCall) goja.Value {
			return vm.ToValue(ctx.All())
		})
	}
	return ns
}

// bindExpectation wraps one Expectation as a chainable JS object. Each
// chain method that narrows the expectation (not, jsonPath) returns a
// freshly bound object over the new Expectation value, since Expectation
// methods are non-mutating by design (expect.go).
func bindExpectation(vm *goja.Runtime, e *Expectation) *goja.Object {
	obj := vm.NewObject()
	_ = obj.Set("not", func(call goja.FunctionCall) goja.Value {
		return bindExpectation(vm, e.Not())
	})
	_ = obj.Set("jsonPath", func(call goja.FunctionCall) goja.Value {
		return bindExpectation(vm, e.JSONPath(call.Argument(0).String()))
	})
	_ = obj.Set("toEqual", func(call goja.FunctionCall) goja.Value {
		e.ToEqual(exportOrNil(call.Argument(0)))
		return goja.Undefined()
	})
	_ = obj.Set("toBeTruthy", func(call goja.FunctionCall) goja.Value {
		e.ToBeTruthy()
		return goja.Undefined()
	})
	_ = obj.Set("toBeFalsy", func(call goja.FunctionCall) goja.Value {
		e.ToBeFalsy()
		return goja.Undefined()
	})
	_ = obj.Set("toContain", func(call goja.FunctionCall) goja.Value {
		e.ToContain(exportOrNil(call.Argument(0)))
		return goja.Undefined()
	})
	_ = obj.Set("toMatch", func(call goja.FunctionCall) goja.Value {
		e.ToMatch(call.Argument(0).String())
		return goja.Undefined()
	})
	_ = obj.Set("toBeGreaterThan", func(call goja.FunctionCall) goja.Value {
		e.ToBeGreaterThan(call.Argument(0).ToFloat())
		return goja.Undefined()
	})
	_ = obj.Set("toBeLessThan", func(call goja.FunctionCall) goja.Value {
		e.ToBeLessThan(call.Argument(0).ToFloat())
		return goja.Undefined()
	})
	return obj
}

// bindHTTPClient exposes the fluent HTTP surface from spec.md §4.3 as
// ctx.http.{get,post,put,patch,delete,head,request}.
func bindHTTPClient(vm *goja.Runtime, ctx *Context, hc *HTTPClient) *goja.Object {
	obj := vm.NewObject()

	verb := func(method func(*HTTPClient, *Context, string, Request) (*Response, error)) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			path := call.Argument(0).String()
			opts := decodeRequestOpts(call.Argument(1))
			resp, err := method(hc, ctx, path, opts)
			if err != nil {
				panic(vm.NewGoError(err))
			}
			return bindResponse(vm, resp)
		}
	}

	_ = obj.Set("get", verb((*HTTPClient).Get))
	_ = obj.Set("post", verb((*HTTPClient).Post))
	_ = obj.Set("put", verb((*HTTPClient).Put))
	_ = obj.Set("patch", verb((*HTTPClient).Patch))
	_ = obj.Set("delete", verb((*HTTPClient).Delete))
	_ = obj.Set("head", verb((*HTTPClient).Head))
	_ = obj.Set("request", func(call goja.FunctionCall) goja.Value {
		opts := decodeRequestOpts(call.Argument(0))
		resp, err := hc.Do(ctx, opts)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return bindResponse(vm, resp)
	})

	return obj
}

func decodeRequestOpts(v goja.Value) Request {
	var req Request
	obj, ok := v.(*goja.Object)
	if !ok {
		return req
	}

	if method := obj.Get("method"); method != nil && !goja.IsUndefined(method) {
		req.Method = method.String()
	}
	if headersObj, ok := obj.Get("headers").(*goja.Object); ok {
		req.Headers = make(map[string]string)
		for _, k := range headersObj.Keys() {
			req.Headers[k] = headersObj.Get(k).String()
		}
	}
	if queryObj, ok := obj.Get("query").(*goja.Object); ok {
		req.Query = make(map[string][]string)
		for _, k := range queryObj.Keys() {
			val := queryObj.Get(k)
			if arr, ok := val.(*goja.Object); ok && arr.ClassName() == "Array" {
				length := int(arr.Get("length").ToInteger())
				for i := 0; i < length; i++ {
					req.Query[k] = append(req.Query[k], arr.Get(strconv.Itoa(i)).String())
				}
				continue
			}
			req.Query[k] = []string{val.String()}
		}
	}
	if body := obj.Get("body"); body != nil && !goja.IsUndefined(body) {
		req.Body = body.Export()
	}
	if schemaObj, ok := obj.Get("schema").(*goja.Object); ok {
		req.Schema = &SchemaOptions{
			Query:    exportOrNil(schemaObj.Get("query")),
			Request:  exportOrNil(schemaObj.Get("request")),
			Response: exportOrNil(schemaObj.Get("response")),
		}
	}
	return req
}

func bindResponse(vm *goja.Runtime, resp *Response) *goja.Object {
	obj := vm.NewObject()
	_ = obj.Set("status", resp.Status)
	headers := make(map[string]string, len(resp.Headers))
	for k := range resp.Headers {
		headers[k] = resp.Headers.Get(k)
	}
	_ = obj.Set("headers", vm.ToValue(headers))
	_ = obj.Set("body", string(resp.Body))
	_ = obj.Set("json", func(call goja.FunctionCall) goja.Value {
		var v any
		if err := resp.JSON(&v); err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(v)
	})
	_ = obj.Set("field", func(call goja.FunctionCall) goja.Value {
		v, ok := resp.Field(call.Argument(0).String())
		if !ok {
			return goja.Undefined()
		}
		return vm.ToValue(v)
	})
	return obj
}

// decodeAssertCondition implements spec.md §4.3's two ctx.assert() call
// shapes: a plain boolean condition, or a result record
// {passed, actual, expected}. goja's ToBoolean() on any non-null object is
// always true, so the record shape must be detected explicitly (by the
// presence of a "passed" property) before falling back to ToBoolean().
// Otherwise a failing record ({passed: false, ...}) would always register
// as a passing assertion.
func decodeAssertCondition(v goja.Value) (bool, AssertDetails) {
	var details AssertDetails
	if obj, ok := v.(*goja.Object); ok {
		if passed := obj.Get("passed"); passed != nil && !goja.IsUndefined(passed) {
			details.Actual = exportOrNil(obj.Get("actual"))
			details.Expected = exportOrNil(obj.Get("expected"))
			return passed.ToBoolean(), details
		}
	}
	return v.ToBoolean(), details
}

func decodeTraceData(v goja.Value) eventlog.TraceData {
	var data eventlog.TraceData
	obj, ok := v.(*goja.Object)
	if !ok {
		return data
	}
	data.Name = stringPropVal(obj.Get("name"))
	data.Method = stringPropVal(obj.Get("method"))
	data.URL = stringPropVal(obj.Get("url"))
	data.Status = intPropVal(obj.Get("status"))
	data.Duration = floatPropVal(obj.Get("duration"))
	return data
}

func decodeMetricOpts(v goja.Value) MetricOpts {
	var opts MetricOpts
	obj, ok := v.(*goja.Object)
	if !ok {
		return opts
	}
	opts.Unit = stringPropVal(obj.Get("unit"))
	if tagsObj, ok := obj.Get("tags").(*goja.Object); ok {
		opts.Tags = make(map[string]string)
		for _, k := range tagsObj.Keys() {
			opts.Tags[k] = tagsObj.Get(k).String()
		}
	}
	return opts
}

func decodeValidateOpts(v goja.Value) ValidateOpts {
	var opts ValidateOpts
	obj, ok := v.(*goja.Object)
	if !ok {
		return opts
	}
	opts.Label = stringPropVal(obj.Get("label"))
	if sev := stringPropVal(obj.Get("severity")); sev != "" {
		opts.Severity = eventlog.Severity(sev)
	}
	return opts
}

// decodePollOpts returns PollOpts plus a separately-typed OnTimeout
// callback binding (it needs the enclosing vm to marshal the last error).
func decodePollOpts(vm *goja.Runtime, v goja.Value) (PollOpts, func(error)) {
	opts := PollOpts{Timeout: 30 * time.Second, Interval: time.Second}
	obj, ok := v.(*goja.Object)
	if !ok {
		return opts, nil
	}
	if ms := obj.Get("timeout"); ms != nil && !goja.IsUndefined(ms) {
		opts.Timeout = time.Duration(ms.ToFloat() * float64(time.Millisecond))
	}
	if ms := obj.Get("interval"); ms != nil && !goja.IsUndefined(ms) {
		opts.Interval = time.Duration(ms.ToFloat() * float64(time.Millisecond))
	}
	cb, ok := goja.AssertFunction(obj.Get("onTimeout"))
	if !ok {
		return opts, nil
	}
	return opts, func(lastErr error) {
		var arg goja.Value = goja.Undefined()
		if lastErr != nil {
			arg = vm.NewGoError(lastErr)
		}
		if _, err := cb(goja.Undefined(), arg); err != nil {
			panic(err)
		}
	}
}

func exportOrNil(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.Export()
}

func stringPropVal(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

func intPropVal(v goja.Value) int {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return 0
	}
	return int(v.ToInteger())
}

func floatPropVal(v goja.Value) float64 {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return 0
	}
	return v.ToFloat()
}
