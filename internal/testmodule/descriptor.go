// Package testmodule resolves discoverable tests out of a user's compiled
// JavaScript test file. It is the Go re-architecture's Resolver (spec.md
// §4.2): since Go has no dynamic "import" of arbitrary source at runtime,
// the "module object" spec.md describes is the goja *goja.Object produced
// by running the user's compiled program once inside a goja.Runtime, and
// "exports" are that object's own enumerable properties (goja's model of a
// CommonJS module.exports / ES module namespace object).
package testmodule

import (
	"github.com/dop251/goja"
)

// Shape is the closed set of test shape variants from spec.md §3.
type Shape string

const (
	ShapeSimple Shape = "simple"
	ShapeSteps  Shape = "steps"
)

// FixtureArity distinguishes eager (arity-1) from lifecycle (arity>=2)
// fixture factories, per spec.md §3/§4.4.
type FixtureArity int

const (
	FixtureSimple    FixtureArity = 1
	FixtureLifecycle FixtureArity = 2
)

// Fixture is one named fixture factory attached to a steps-variant test.
type Fixture struct {
	Name     string
	Arity    FixtureArity
	Factory  goja.Callable
}

// StepDef is one named step function attached to a steps-variant test.
type StepDef struct {
	Name      string
	Run       goja.Callable
	Retries   int
	TimeoutMs int // 0 means no per-step timeout
}

// Descriptor is the stable, static metadata spec.md §3 calls the "test
// descriptor": everything the engine and the harness need about a test
// before running its body.
type Descriptor struct {
	ID         string
	Name       string
	Tags       []string
	Shape      Shape
	Skip       bool
	Only       bool
	TimeoutMs  int // 0 means use the run configuration's default
	Retries    int // per-step default retry count for steps-variant tests

	// Simple-variant body.
	Run goja.Callable

	// Steps-variant body.
	Steps    []StepDef
	Setup    goja.Callable // optional
	Teardown goja.Callable // optional
	Fixtures []Fixture     // optional
}

// Validate enforces the invariants from spec.md §3: non-empty id; a
// non-empty step sequence for steps-variant tests; non-negative retries.
func (d Descriptor) Validate() error {
	if d.ID == "" {
		return errInvalidDescriptor("id must not be empty")
	}
	if d.Shape == ShapeSteps && len(d.Steps) == 0 {
		return errInvalidDescriptor("steps-variant test must have at least one step")
	}
	if d.Retries < 0 {
		return errInvalidDescriptor("retries must be >= 0")
	}
	for _, s := range d.Steps {
		if s.Retries < 0 {
			return errInvalidDescriptor("step retries must be >= 0")
		}
	}
	return nil
}

type invalidDescriptorError string

func (e invalidDescriptorError) Error() string { return string(e) }

func errInvalidDescriptor(msg string) error { return invalidDescriptorError(msg) }

// Summary is the enumerate() projection from spec.md §4.2.
type Summary struct {
	ExportName string
	ID         string
	Name       string
	Tags       []string
	Type       Shape
	Only       bool
	Skip       bool
}
