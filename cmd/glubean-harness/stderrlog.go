// The harness subprocess's stdout is reserved end to end for the NDJSON
// timeline stream (spec.md §4.5/§4.1); nothing else may ever write there.
// Anything the harness itself needs to say before it has even managed to
// emit a single event (a malformed CLI invocation, an unrecovered panic)
// goes to stderr through this tiny logger instead of the full
// internal/logging stack, which assumes an engine-side process free to pick
// its own output stream.
package main

import (
	"fmt"
	"os"
)

func stderrf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
