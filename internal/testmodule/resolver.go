package testmodule

import (
	"fmt"

	"github.com/dop251/goja"
)

const (
	kindBuilder     = "builder"
	kindEachBuilder = "each-builder"
)

// Resolver walks a goja module's exports to discover tests, memoizing
// builder results so that build() is invoked at most once per builder
// object even when the same builder is reachable from enumerate, findById
// and findByExport within one process, preserving the idempotence
// invariant from spec.md §4.2/§8 regardless of whether the user's own
// build() happens to memoize.
type Resolver struct {
	vm      *goja.Runtime
	built   map[*goja.Object][]Descriptor
}

// NewResolver creates a Resolver bound to the runtime that produced the
// module's exported values (builders must be invoked in that same runtime).
func NewResolver(vm *goja.Runtime) *Resolver {
	return &Resolver{vm: vm, built: make(map[*goja.Object][]Descriptor)}
}

// resolvedExport pairs a discovered descriptor with the export name it was
// found under, for enumerate()'s reporting contract.
type resolvedExport struct {
	exportName string
	descriptor Descriptor
}

// resolveValue expands one exported value into zero or more descriptors,
// auto-building builders and each-builders and recursing into arrays.
func (r *Resolver) resolveValue(exportName string, v goja.Value) ([]Descriptor, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}

	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, nil
	}

	if kind := stringProp(obj, "__glubeanKind"); kind != "" {
		switch kind {
		case kindBuilder:
			return r.build(obj, false)
		case kindEachBuilder:
			return r.build(obj, true)
		}
	}

	// Sequence of test objects (data-driven generation): goja represents a
	// JS array as an *goja.Object whose class is "Array".
	if obj.ClassName() == "Array" {
		length := int(obj.Get("length").ToInteger())
		var out []Descriptor
		for i := 0; i < length; i++ {
			elem := obj.Get(fmt.Sprintf("%d", i))
			descs, err := r.resolveValue(exportName, elem)
			if err != nil {
				return nil, err
			}
			out = append(out, descs...)
		}
		return out, nil
	}

	// A fully-built test object: has a meta property with at least an id
	// and a recognized type.
	if meta := obj.Get("meta"); meta != nil && !goja.IsUndefined(meta) {
		if metaObj, ok := meta.(*goja.Object); ok {
			if id := stringProp(metaObj, "id"); id != "" {
				desc, err := decodeTest(obj, metaObj)
				if err != nil {
					return nil, err
				}
				return []Descriptor{desc}, nil
			}
		}
	}

	return nil, nil
}

// build invokes a builder/each-builder's build() once, memoizes the result
// keyed by object identity, and recursively resolves whatever it returns
// (build() may itself return another builder, per spec.md's "auto-resolution
// ... recursively resolved" rule).
func (r *Resolver) build(obj *goja.Object, each bool) ([]Descriptor, error) {
	if cached, ok := r.built[obj]; ok {
		return cached, nil
	}

	buildFn, ok := goja.AssertFunction(obj.Get("build"))
	if !ok {
		return nil, fmt.Errorf("testmodule: %s has no callable build()", classify(each))
	}

	result, err := buildFn(goja.Undefined())
	if err != nil {
		return nil, fmt.Errorf("testmodule: build() failed: %w", err)
	}

	descs, err := r.resolveValue("", result)
	if err != nil {
		return nil, err
	}
	r.built[obj] = descs
	return descs, nil
}

func classify(each bool) string {
	if each {
		return "each-builder"
	}
	return "builder"
}

// Enumerate returns every discoverable test across every export, in
// spec.md §4.2's projection shape.
func (r *Resolver) Enumerate(module *goja.Object) ([]Summary, error) {
	var out []Summary
	for _, name := range module.Keys() {
		descs, err := r.resolveValue(name, module.Get(name))
		if err != nil {
			return nil, err
		}
		for _, d := range descs {
			out = append(out, Summary{
				ExportName: name,
				ID:         d.ID,
				Name:       d.Name,
				Tags:       d.Tags,
				Type:       d.Shape,
				Only:       d.Only,
				Skip:       d.Skip,
			})
		}
	}
	return out, nil
}

// FindByID searches default export first, then the export keyed by id,
// then every other export, auto-resolving builders along the way, and
// requires exact id equality (spec.md §4.2 "no substring / case-insensitive
// match here").
func (r *Resolver) FindByID(module *goja.Object, id string) (*Descriptor, error) {
	order := make([]string, 0, len(module.Keys())+2)
	order = append(order, "default")
	if id != "" {
		order = append(order, id)
	}
	seen := map[string]bool{"default": true, id: true}
	for _, name := range module.Keys() {
		if !seen[name] {
			order = append(order, name)
			seen[name] = true
		}
	}

	for _, name := range order {
		v := module.Get(name)
		if v == nil || goja.IsUndefined(v) {
			continue
		}
		descs, err := r.resolveValue(name, v)
		if err != nil {
			return nil, err
		}
		for i := range descs {
			if descs[i].ID == id {
				return &descs[i], nil
			}
		}
	}
	return nil, nil
}

// FindByExport locates a test by export name rather than id, for
// non-deterministic tests whose resolved id may not match the id observed
// at execution time. Returns the first resolved test if the export holds
// an array.
func (r *Resolver) FindByExport(module *goja.Object, name string) (*Descriptor, error) {
	v := module.Get(name)
	if v == nil || goja.IsUndefined(v) {
		return nil, nil
	}
	descs, err := r.resolveValue(name, v)
	if err != nil {
		return nil, err
	}
	if len(descs) == 0 {
		return nil, nil
	}
	return &descs[0], nil
}

func stringProp(obj *goja.Object, name string) string {
	v := obj.Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}
