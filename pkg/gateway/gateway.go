package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"scanopy-mcp/pkg/errors"
	"scanopy-mcp/pkg/logging"
)

const (
	userAgent = "scanopy-mcp/0.1.0"

	// Response bodies attached to errors are cut to this size
	maxErrorBody = 2048
)

// TransportError reports a failed round trip: network failure, timeout,
// a non-2xx status or an undecodable response.
type TransportError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
	Timeout    bool
	Cause      error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0:
		msg := fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
		if e.Body != "" {
			msg += ": " + e.Body
		}
		return msg
	case e.Cause != nil:
		return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Cause)
	default:
		return fmt.Sprintf("%s %s: request failed", e.Method, e.URL)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// StructuredError implements errors.Classifier
func (e *TransportError) StructuredError() *errors.StructuredError {
	code := errors.ErrCodeUpstreamUnavailable
	switch {
	case e.Timeout:
		code = errors.ErrCodeUpstreamTimeout
	case e.StatusCode != 0:
		code = errors.ErrCodeUpstreamStatus
	case e.Cause != nil && isDecodeError(e.Cause):
		code = errors.ErrCodeUpstreamDecode
	}

	se := errors.NewTransportError(code, e.Error(), e).
		WithContext("method", e.Method).
		WithContext("url", e.URL)
	if e.StatusCode != 0 {
		se.WithContext("status", e.StatusCode)
	}
	return se
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return stderrors.As(err, &syntaxErr) || stderrors.As(err, &typeErr)
}

// NewHTTPClient returns an instrumented HTTP client bounded by timeout
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// Client performs authenticated calls against the remote API.
// There is no retry: a failed round trip is returned to the caller as is.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logging.StructuredLogger
}

// NewClient creates a gateway client. apiKey is sent as a raw bearer token.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *logging.StructuredLogger) *Client {
	if logger == nil {
		logger = logging.NewLoggingManager().GetLogger("gateway")
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: NewHTTPClient(timeout),
		logger:     logger,
	}
}

// Request substitutes {placeholders} in pathTemplate from args, then sends the
// remaining args as query parameters (GET only) or as a JSON body (every
// other method, HEAD included). It returns the decoded JSON response, or nil for an empty body.
func (c *Client) Request(ctx context.Context, method, pathTemplate string, args map[string]interface{}) (interface{}, error) {
	method = strings.ToUpper(method)
	path, rest := SubstitutePath(pathTemplate, args)
	target := c.baseURL + path

	var body io.Reader
	if sendsQuery(method) {
		if len(rest) > 0 {
			target += "?" + EncodeQuery(rest).Encode()
		}
	} else if len(rest) > 0 {
		payload, err := json.Marshal(rest)
		if err != nil {
			return nil, &TransportError{Method: method, URL: c.baseURL + path, Cause: err}
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, &TransportError{Method: method, URL: c.baseURL + path, Cause: err}
	}

	requestID := uuid.NewString()
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	logger := c.logger.WithContext("http_method", method).
		WithContext("path", path).
		WithContext("request_id", requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.WithContext("duration_ms", time.Since(start).Milliseconds()).WithError(err).Warn("Gateway request failed")
		return nil, &TransportError{Method: method, URL: c.baseURL + path, Timeout: IsTimeout(ctx, err), Cause: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Method: method, URL: c.baseURL + path, Timeout: IsTimeout(ctx, err), Cause: err}
	}

	logger = logger.WithContext("status", resp.StatusCode).
		WithContext("duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Warn("Gateway request returned error status")
		return nil, &TransportError{
			Method:     method,
			URL:        c.baseURL + path,
			StatusCode: resp.StatusCode,
			Body:       truncate(strings.TrimSpace(string(data)), maxErrorBody),
		}
	}
	logger.Debug("Gateway request completed")

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var result interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, &TransportError{Method: method, URL: c.baseURL + path, Cause: err}
	}
	return result, nil
}

func sendsQuery(method string) bool {
	return method == http.MethodGet
}

// SubstitutePath replaces every {name} token in template whose name is a key
// of args, and returns the remaining arguments. args is not modified.
func SubstitutePath(template string, args map[string]interface{}) (string, map[string]interface{}) {
	path := template
	rest := make(map[string]interface{}, len(args))
	for key, value := range args {
		placeholder := "{" + key + "}"
		if strings.Contains(path, placeholder) {
			path = strings.ReplaceAll(path, placeholder, url.PathEscape(FormatValue(value)))
			continue
		}
		rest[key] = value
	}
	return path, rest
}

// EncodeQuery renders arguments as query values. Lists repeat the key;
// objects are sent as JSON text.
func EncodeQuery(args map[string]interface{}) url.Values {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := url.Values{}
	for _, k := range keys {
		switch v := args[k].(type) {
		case nil:
			continue
		case []interface{}:
			for _, item := range v {
				values.Add(k, FormatValue(item))
			}
		default:
			values.Add(k, FormatValue(v))
		}
	}
	return values
}

// FormatValue renders a JSON-decoded value for use in a URL
func FormatValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	case nil:
		return ""
	case map[string]interface{}, []interface{}:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	default:
		return fmt.Sprint(t)
	}
}

// IsTimeout reports whether err came from a deadline or a network timeout
func IsTimeout(ctx context.Context, err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
