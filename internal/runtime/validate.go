package runtime

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/glubean/glubean/internal/eventlog"
	"github.com/glubean/glubean/internal/glerr"
)

// ValidateOpts configures ctx.validate's severity, per spec.md §4.3.
type ValidateOpts struct {
	Label    string
	Severity eventlog.Severity
}

// Validate runs schema over data, following spec.md §4.3's preferred
// safeParse path (here, gojsonschema.Validate never panics, so there is no
// separate try/catch fallback path to model). Regardless of outcome it
// emits exactly one schema_validation event, then routes the result
// through the matching failure channel for the requested severity.
//
// schema and data may each be a Go value (marshaled to JSON) or an
// already-serialized JSON string.
func (c *Context) Validate(data, schema any, opts ValidateOpts) (any, error) {
	severity := opts.Severity
	if severity == "" {
		severity = eventlog.SeverityError
	}

	schemaJSON, err := toJSONString(schema)
	if err != nil {
		return nil, glerr.Wrap(glerr.CodeSchemaError, "invalid schema", err)
	}
	dataJSON, err := toJSONString(data)
	if err != nil {
		return nil, glerr.Wrap(glerr.CodeSchemaError, "invalid data", err)
	}

	schemaLoader := gojsonschema.NewStringLoader(schemaJSON)
	docLoader := gojsonschema.NewStringLoader(dataJSON)

	result, verr := gojsonschema.Validate(schemaLoader, docLoader)

	success := verr == nil && result != nil && result.Valid()
	var issues []string
	if verr != nil {
		issues = []string{verr.Error()}
	} else if result != nil {
		for _, re := range result.Errors() {
			issues = append(issues, re.String())
		}
	}

	c.Counters.SchemaValidationTotal++
	if !success {
		switch severity {
		case eventlog.SeverityWarn:
			c.Counters.SchemaValidationWarnings++
		default:
			c.Counters.SchemaValidationFailed++
		}
	}

	c.emitEvent(eventlog.SchemaValidation{
		Label:     opts.Label,
		Success:   success,
		Severity:  severity,
		Issues:    issues,
		StepIndex: c.stepIndex,
	})

	if success {
		return data, nil
	}

	message := fmt.Sprintf("schema validation failed for %q", opts.Label)
	if len(issues) > 0 {
		message = fmt.Sprintf("%s: %s", message, issues[0])
	}

	switch severity {
	case eventlog.SeverityWarn:
		c.Warn(false, message)
		return nil, nil
	case eventlog.SeverityFatal:
		c.Assert(false, message, AssertDetails{})
		return nil, &glerr.FailSignal{Message: message}
	default: // error
		c.Assert(false, message, AssertDetails{})
		return nil, nil
	}
}
