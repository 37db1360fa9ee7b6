// Package engine hosts everything that runs outside the harness subprocess:
// spawning it, feeding it its execution context, reading its NDJSON
// timeline back, and fanning a batch of tests out across a worker pool
// (spec.md §4.6/§4.7).
package engine

// ExecutionInput is the JSON document the executor writes to the harness
// subprocess's stdin and closes (spec.md §4.5/§4.6): everything the harness
// needs to compile one test file, resolve one test, and run it, without
// reaching back out to the engine process for anything other than its own
// stdout/stderr pipes.
type ExecutionInput struct {
	// TestURL is a filesystem path to the compiled (or plain) JavaScript
	// test file the harness loads and runs inside its goja runtime.
	TestURL string `json:"testUrl"`
	// TestID selects which discovered test to run, per testmodule.Resolver's
	// FindByID search order. ExportName is an optional fallback used when
	// the id a non-deterministic test resolves to at runtime may not match
	// the id observed when the batch was planned (testmodule.Resolver.FindByExport).
	TestID     string `json:"testId"`
	ExportName string `json:"exportName,omitempty"`

	Vars    map[string]string `json:"vars,omitempty"`
	Secrets map[string]string `json:"secrets,omitempty"`

	RetryCount int `json:"retryCount"`
	TimeoutMs  int `json:"timeoutMs"`

	BaseURL            string `json:"baseUrl,omitempty"`
	AllowNet           string `json:"allowNet"`
	NetworkBudgetBytes int64  `json:"networkBudgetBytes,omitempty"`
	EmitFullTrace      bool   `json:"emitFullTrace"`
}
