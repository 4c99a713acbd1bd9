package openapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"scanopy-mcp/pkg/cache"
	"scanopy-mcp/pkg/errors"
	"scanopy-mcp/pkg/gateway"
	"scanopy-mcp/pkg/logging"
)

// DefaultFetchTimeout bounds a single document download
const DefaultFetchTimeout = 5 * time.Second

// Loader provides the interface document from a URL or a local file, cached
// for a fixed interval. Concurrent callers share a single fetch.
type Loader struct {
	source string
	isFile bool

	client  *http.Client
	breaker *errors.CircuitBreaker
	cache   *cache.DocumentCache[*Document]
	group   singleflight.Group
	logger  *logging.StructuredLogger

	fetches  atomic.Int64
	failures atomic.Int64
}

// NewURLLoader creates a loader that fetches the document over HTTP
func NewURLLoader(url string, ttl time.Duration, logger *logging.StructuredLogger) *Loader {
	l := newLoader(url, ttl, logger)
	l.client = gateway.NewHTTPClient(DefaultFetchTimeout)
	l.breaker = errors.NewCircuitBreaker(errors.DefaultCircuitBreakerConfig("openapi"))
	l.breaker.SetStateChangeCallback(func(from, to errors.CircuitBreakerState) {
		l.logger.WithContext("from", from.String()).WithContext("to", to.String()).
			Warn("Interface document circuit state changed")
	})
	return l
}

// NewFileLoader creates a loader that reads the document from disk
func NewFileLoader(path string, ttl time.Duration, logger *logging.StructuredLogger) *Loader {
	l := newLoader(path, ttl, logger)
	l.isFile = true
	return l
}

func newLoader(source string, ttl time.Duration, logger *logging.StructuredLogger) *Loader {
	if logger == nil {
		logger = logging.NewLoggingManager().GetLogger("openapi")
	}
	return &Loader{
		source: source,
		cache:  cache.NewDocumentCache[*Document](ttl, logger),
		logger: logger.WithContext("source", source),
	}
}

// Source returns the URL or file path documents are loaded from
func (l *Loader) Source() string {
	return l.source
}

// IsFile reports whether the loader reads from a local file
func (l *Loader) IsFile() bool {
	return l.isFile
}

// Cache exposes the underlying cache, mainly for clock control in tests
func (l *Loader) Cache() *cache.DocumentCache[*Document] {
	return l.cache
}

// Breaker returns the circuit breaker guarding downloads, nil for file loaders
func (l *Loader) Breaker() *errors.CircuitBreaker {
	return l.breaker
}

// Load returns the cached document while fresh, fetching it otherwise.
// A legitimately empty document is cached like any other.
func (l *Loader) Load(ctx context.Context) (*Document, error) {
	if doc, ok := l.cache.Get(l.source); ok {
		return doc, nil
	}

	v, err, _ := l.group.Do(l.source, func() (interface{}, error) {
		// Another caller may have stored it while we waited
		if doc, ok := l.cache.Get(l.source); ok {
			return doc, nil
		}

		// Callers share this fetch, so one caller giving up must not fail the rest
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultFetchTimeout)
		defer cancel()

		start := time.Now()
		doc, err := l.fetch(fetchCtx)
		if err != nil {
			l.failures.Add(1)
			l.logger.WithError(err).Warn("Interface document load failed")
			return nil, err
		}

		l.fetches.Add(1)
		l.cache.Set(l.source, doc)
		l.logger.WithContext("paths", len(doc.Paths)).
			WithContext("duration_ms", time.Since(start).Milliseconds()).
			Info("Interface document loaded")
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Document), nil
}

// Invalidate drops the cached document so the next Load fetches again
func (l *Loader) Invalidate() {
	l.cache.Invalidate(l.source)
}

// Refresh drops the cached document and loads it again
func (l *Loader) Refresh(ctx context.Context) (*Document, error) {
	l.Invalidate()
	return l.Load(ctx)
}

func (l *Loader) fetch(ctx context.Context) (*Document, error) {
	var data []byte
	var err error
	if l.isFile {
		data, err = os.ReadFile(l.source)
		if err != nil {
			return nil, &gateway.TransportError{Method: "READ", URL: l.source, Cause: err}
		}
	} else {
		err = l.breaker.Execute(func() error {
			var downloadErr error
			data, downloadErr = l.download(ctx)
			return downloadErr
		})
		if err != nil {
			return nil, err
		}
	}

	return Parse(data)
}

func (l *Loader) download(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.source, nil)
	if err != nil {
		return nil, &gateway.TransportError{Method: http.MethodGet, URL: l.source, Cause: err}
	}
	req.Header.Set("Accept", "application/json, application/yaml;q=0.9")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, &gateway.TransportError{Method: http.MethodGet, URL: l.source, Timeout: gateway.IsTimeout(ctx, err), Cause: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &gateway.TransportError{Method: http.MethodGet, URL: l.source, Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &gateway.TransportError{
			Method:     http.MethodGet,
			URL:        l.source,
			StatusCode: resp.StatusCode,
			Body:       fmt.Sprintf("%.256s", string(data)),
		}
	}
	return data, nil
}

// GetPerformanceMetrics returns loader and cache metrics
func (l *Loader) GetPerformanceMetrics() map[string]interface{} {
	metrics := l.cache.GetPerformanceMetrics()
	metrics["source"] = l.source
	metrics["fetches"] = l.fetches.Load()
	metrics["fetch_failures"] = l.failures.Load()
	if l.breaker != nil {
		metrics["circuit_breaker"] = l.breaker.GetStats()
	}
	return metrics
}
