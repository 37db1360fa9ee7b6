package runtime

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/glubean/glubean/internal/eventlog"
	"github.com/glubean/glubean/internal/glerr"
	"github.com/glubean/glubean/internal/netpolicy"
)

// OperationNameHeader is the outgoing request header a test may set so the
// auto-trace event's Name field is populated, per spec.md §4.3.
const OperationNameHeader = "X-Glubean-Operation"

// ClientConfig mirrors the teacher's infrastructure/httputil.ClientConfig,
// generalized from a fixed service client to the sandbox's single
// per-subprocess HTTP surface.
type ClientConfig struct {
	BaseURL       string
	Timeout       time.Duration
	MaxBodyBytes  int64
	NetworkBudget int64
	EmitFullTrace bool
	// AllowNet is the resolved sandboxconfig.ResolveAllowNetFlag value:
	// "*" permits every host, "" permits none, anything else is a
	// comma-separated host allowlist enforced alongside the SSRF
	// classifier below (spec.md §4.9).
	AllowNet string
}

// HTTPClient is the fluent per-subprocess HTTP surface from spec.md §4.3,
// wrapping a *http.Client configured the way the teacher configures every
// service client: a TLS-1.2 floor transport, a bounded timeout, a bounded
// response size.
type HTTPClient struct {
	client        *http.Client
	baseURL       string
	maxBodyBytes  int64
	emitFullTrace bool
	allowNet      string
	allowedHosts  map[string]struct{}
	budget        *NetworkBudget
}

// NewHTTPClient builds an HTTPClient from cfg.
func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}

	allowNet := cfg.AllowNet
	var allowedHosts map[string]struct{}
	if allowNet != "" && allowNet != "*" {
		allowedHosts = make(map[string]struct{})
		for _, h := range strings.Split(allowNet, ",") {
			if h = strings.TrimSpace(h); h != "" {
				allowedHosts[strings.ToLower(h)] = struct{}{}
			}
		}
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout:   timeout,
			Transport: defaultTransportWithMinTLS12(),
		},
		baseURL:       strings.TrimSuffix(cfg.BaseURL, "/"),
		maxBodyBytes:  maxBody,
		emitFullTrace: cfg.EmitFullTrace,
		allowNet:      allowNet,
		allowedHosts:  allowedHosts,
		budget:        NewNetworkBudget(cfg.NetworkBudget, nil),
	}
}

// checkNetPolicy enforces spec.md §4.9's fail-closed network policy before
// any request leaves the subprocess: the SSRF classifier always runs
// (loopback/private/link-local/metadata targets are blocked regardless of
// allowNet), and a configured allowlist additionally restricts which
// hostnames may be reached at all.
func (hc *HTTPClient) checkNetPolicy(targetURL string) error {
	if hc.allowNet == "" {
		return glerr.New(glerr.CodeFail, "network access is disabled for this test")
	}
	if reason := netpolicy.Evaluate(targetURL, nil, nil); reason != netpolicy.ReasonNone {
		return glerr.New(glerr.CodeFail, fmt.Sprintf("request to %s blocked: %s", targetURL, reason))
	}
	if hc.allowedHosts == nil {
		return nil // "*": unrestricted beyond the SSRF classifier
	}
	u, err := url.Parse(targetURL)
	if err != nil {
		return glerr.New(glerr.CodeFail, fmt.Sprintf("invalid request url %q", targetURL))
	}
	if _, ok := hc.allowedHosts[strings.ToLower(u.Hostname())]; !ok {
		return glerr.New(glerr.CodeFail, fmt.Sprintf("request to host %q is not in allowNet", u.Hostname()))
	}
	return nil
}

// defaultTransportWithMinTLS12 clones http.DefaultTransport and enforces a
// modern TLS baseline, grounded on
// infrastructure/httputil/transport.go's DefaultTransportWithMinTLS12.
func defaultTransportWithMinTLS12() http.RoundTripper {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return http.DefaultTransport
	}
	cloned := base.Clone()
	if cloned.TLSClientConfig != nil {
		cloned.TLSClientConfig = cloned.TLSClientConfig.Clone()
		if cloned.TLSClientConfig.MinVersion < tls.VersionTLS12 {
			cloned.TLSClientConfig.MinVersion = tls.VersionTLS12
		}
	} else {
		cloned.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return cloned
}

// SchemaOptions names the optional pre/post-request validation schemas from
// spec.md §4.3.
type SchemaOptions struct {
	Query    any
	Request  any
	Response any
}

// Request is one fluent HTTP call's configuration.
type Request struct {
	Method        string
	Path          string
	Query         map[string][]string
	Headers       map[string]string
	Body          any
	Schema        *SchemaOptions
}

// Response is the result of one fluent HTTP call.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Field plucks one dot-path field out of a JSON response body without a
// full struct unmarshal, for callers that only need a single value (e.g.
// ctx.http.get(...).field("user.id") instead of a full .json() round trip).
func (r *Response) Field(path string) (any, bool) {
	result, ok := gjsonField(r.Body, path)
	if !ok {
		return nil, false
	}
	return result.Value(), true
}

// Do executes req, applying the four cross-cutting hooks from spec.md
// §4.3: pre-request schema validation, auto-trace, auto-metric, and
// response-schema validation. ctx owns the counters and event emission; a
// *HTTPClient has no Context of its own so one client can safely be reused
// is not required by spec.md (one per subprocess is standard), but keeping
// ctx out of the struct keeps the HTTP transport concern decoupled from the
// assertion/event concern, matching the teacher's own separation between
// infrastructure/httputil (pure transport helpers) and the service layer
// that calls it.
func (hc *HTTPClient) Do(ctx *Context, req Request) (*Response, error) {
	if req.Schema != nil {
		if req.Schema.Query != nil {
			if _, err := ctx.Validate(req.Query, req.Schema.Query, ValidateOpts{Label: "request.query"}); err != nil {
				return nil, err
			}
		}
		if req.Schema.Request != nil && req.Body != nil {
			if _, err := ctx.Validate(req.Body, req.Schema.Request, ValidateOpts{Label: "request.body"}); err != nil {
				return nil, err
			}
		}
	}

	targetURL, err := hc.buildURL(req.Path, req.Query)
	if err != nil {
		return nil, err
	}
	if err := hc.checkNetPolicy(targetURL); err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	var requestBodyJSON string
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("runtime: encode request body: %w", err)
		}
		requestBodyJSON = string(b)
		bodyReader = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequest(strings.ToUpper(req.Method), targetURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("runtime: build request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	operationName := httpReq.Header.Get(OperationNameHeader)

	hc.budget.SetWarn(func(message string) { ctx.Warn(false, message) })

	start := time.Now()
	httpResp, err := hc.client.Do(httpReq)
	duration := time.Since(start)

	ctx.Counters.HTTPRequestTotal++

	trace := eventlog.TraceData{
		Method:   strings.ToUpper(req.Method),
		URL:      targetURL,
		Duration: float64(duration.Microseconds()) / 1000.0,
		Name:     operationName,
	}

	if err != nil {
		ctx.Counters.HTTPErrorTotal++
		ctx.emitEvent(eventlog.Trace{Data: trace, StepIndex: ctx.stepIndex})
		hc.emitMetric(ctx, req.Method, targetURL, duration)
		return nil, fmt.Errorf("runtime: http request failed: %w", err)
	}
	defer httpResp.Body.Close()

	trace.Status = httpResp.StatusCode
	if httpResp.StatusCode >= 400 {
		ctx.Counters.HTTPErrorTotal++
	}

	if err := hc.budget.CheckContentLength(httpResp.ContentLength); err != nil {
		return nil, AsGlerr(err)
	}
	budgetedBody := httpResp.Body
	if httpResp.ContentLength < 0 {
		budgetedBody = hc.budget.Wrap(httpResp.Body)
	}

	bodyBytes, err := io.ReadAll(io.LimitReader(budgetedBody, hc.maxBodyBytes+1))
	if err != nil {
		if be, ok := err.(*BudgetExceededError); ok {
			return nil, AsGlerr(be)
		}
		return nil, fmt.Errorf("runtime: read response body: %w", err)
	}
	truncatedForSizeCap := int64(len(bodyBytes)) > hc.maxBodyBytes
	if truncatedForSizeCap {
		bodyBytes = bodyBytes[:hc.maxBodyBytes]
	}

	if hc.emitFullTrace {
		trace.RequestHeaders = flattenHeader(httpReq.Header)
		trace.RequestBody = serializableBodyOrPlaceholder(httpReq.Header.Get("Content-Type"), requestBodyJSON, true)
		trace.ResponseHeaders = flattenHeader(httpResp.Header)
		trace.ResponseBody = serializableBodyOrPlaceholder(httpResp.Header.Get("Content-Type"), string(bodyBytes), true)
	}

	ctx.emitEvent(eventlog.Trace{Data: trace, StepIndex: ctx.stepIndex})
	hc.emitMetric(ctx, req.Method, targetURL, duration)

	resp := &Response{Status: httpResp.StatusCode, Headers: httpResp.Header, Body: bodyBytes}

	if req.Schema != nil && req.Schema.Response != nil {
		var parsed any
		if err := json.Unmarshal(bodyBytes, &parsed); err == nil {
			if _, verr := ctx.Validate(parsed, req.Schema.Response, ValidateOpts{Label: "response.body"}); verr != nil {
				return resp, verr
			}
		}
	}

	return resp, nil
}

func (hc *HTTPClient) emitMetric(ctx *Context, method, targetURL string, duration time.Duration) {
	tags := map[string]string{"method": strings.ToUpper(method)}
	if u, err := url.Parse(targetURL); err == nil {
		tags["path"] = u.Path
	}
	ctx.emitEvent(eventlog.Metric{
		Name:      "http_duration_ms",
		Value:     float64(duration.Microseconds()) / 1000.0,
		Unit:      "ms",
		Tags:      tags,
		StepIndex: ctx.stepIndex,
	})
}

// buildURL joins the client's base URL with a relative path, stripping a
// leading "/" (spec.md §4.3 URL normalization) and dropping empty query
// parameter collections so no bare "?" appears in the URL.
func (hc *HTTPClient) buildURL(path string, query map[string][]string) (string, error) {
	trimmed := strings.TrimPrefix(path, "/")
	base := hc.baseURL
	if base == "" {
		base = trimmed
	} else if trimmed != "" {
		base = base + "/" + trimmed
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("runtime: invalid url %q: %w", base, err)
	}

	values := url.Values{}
	for k, vs := range query {
		if len(vs) == 0 {
			continue
		}
		for _, v := range vs {
			values.Add(k, v)
		}
	}
	if len(values) > 0 {
		u.RawQuery = values.Encode()
	}
	return u.String(), nil
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

// Get/Post/Put/Patch/Delete/Head are thin convenience wrappers over Do for
// the verb surface spec.md §4.3 names.
func (hc *HTTPClient) Get(ctx *Context, path string, opts Request) (*Response, error) {
	opts.Method, opts.Path = http.MethodGet, path
	return hc.Do(ctx, opts)
}

func (hc *HTTPClient) Post(ctx *Context, path string, opts Request) (*Response, error) {
	opts.Method, opts.Path = http.MethodPost, path
	return hc.Do(ctx, opts)
}

func (hc *HTTPClient) Put(ctx *Context, path string, opts Request) (*Response, error) {
	opts.Method, opts.Path = http.MethodPut, path
	return hc.Do(ctx, opts)
}

func (hc *HTTPClient) Patch(ctx *Context, path string, opts Request) (*Response, error) {
	opts.Method, opts.Path = http.MethodPatch, path
	return hc.Do(ctx, opts)
}

func (hc *HTTPClient) Delete(ctx *Context, path string, opts Request) (*Response, error) {
	opts.Method, opts.Path = http.MethodDelete, path
	return hc.Do(ctx, opts)
}

func (hc *HTTPClient) Head(ctx *Context, path string, opts Request) (*Response, error) {
	opts.Method, opts.Path = http.MethodHead, path
	return hc.Do(ctx, opts)
}

// gjsonField is a small helper exposed for JS bindings that want to pluck
// one field out of a response body without a full struct unmarshal,
// grounded on the teacher's own use of tidwall/gjson for untyped JSON
// field access.
func gjsonField(body []byte, path string) (gjson.Result, bool) {
	r := gjson.GetBytes(body, path)
	return r, r.Exists()
}
