package runtime

import "unicode/utf8"

// MaxTraceBodyBytes is the auto-trace body truncation boundary from
// spec.md §4.3 and §8 ("Response body of exactly 10 KB is emitted in
// full; 10 KB + 1 is truncated").
const MaxTraceBodyBytes = 10 * 1024

const truncationSuffix = "... (truncated)"

// truncateTraceBody implements the boundary behavior from spec.md §8 and
// resolves the Open Question from spec.md §9 about multi-byte truncation:
// truncation always lands on a whole UTF-8 rune, never mid-codepoint, by
// backing off to the last complete rune boundary within the byte cap.
func truncateTraceBody(body string) string {
	if len(body) <= MaxTraceBodyBytes {
		return body
	}
	cut := body[:MaxTraceBodyBytes]
	for len(cut) > 0 {
		r, size := utf8.DecodeLastRuneInString(cut)
		if r != utf8.RuneError || size != 1 {
			break
		}
		cut = cut[:len(cut)-1]
	}
	return cut + truncationSuffix
}

// serializableBodyOrPlaceholder renders a body for tracing: JSON/text/XML
// content types pass through (and are truncated); anything else is omitted
// with the literal placeholder spec.md §4.3 names for non-serializable
// values.
func serializableBodyOrPlaceholder(contentType string, body string, ok bool) string {
	if !ok {
		return "(non-serializable)"
	}
	if !isTraceableContentType(contentType) {
		return ""
	}
	return truncateTraceBody(body)
}

func isTraceableContentType(contentType string) bool {
	for _, prefix := range []string{"application/json", "text/", "application/xml", "text/xml"} {
		if len(contentType) >= len(prefix) && contentType[:len(prefix)] == prefix {
			return true
		}
	}
	return contentType == ""
}
