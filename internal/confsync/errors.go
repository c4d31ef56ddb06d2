package confsync

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Sentinel errors for the error kinds named in the fetch/notify subsystem's
// design: wrap one of these with fmt.Errorf("...: %w", ErrX) so callers can
// distinguish kinds with errors.Is while still carrying a human-readable
// message (e.g. the 404 "namespace not released" hint).
var (
	// ErrNoAvailableService is returned by the Service Locator when it
	// exhausts its retry budget against the meta server without finding
	// any Config Service endpoint.
	ErrNoAvailableService = errors.New("confsync: no available config service")

	// ErrInitialLoadFailed is returned by Repository.Start when the
	// first-ever sync() does not yield a snapshot.
	ErrInitialLoadFailed = errors.New("confsync: initial load failed")

	// ErrNamespaceNotFound corresponds to an HTTP 404 from the Config
	// Service: the namespace exists but has never been released.
	ErrNamespaceNotFound = errors.New("confsync: namespace not yet released")

	// ErrLoadFailed is returned when every endpoint attempt within a
	// sync() invocation fails.
	ErrLoadFailed = errors.New("confsync: config load failed")

	// ErrTypeMismatch is returned by the Facade's typed accessors
	// (GetInt, GetBool, GetDuration) when the key is present but its value
	// does not convert. GetProperty/GetString never return it.
	ErrTypeMismatch = errors.New("confsync: value does not match requested type")
)

// ClassifyError buckets an error into a small label set for metrics and
// log fields, the way a transient network failure is told apart from a
// context cancellation or an outright protocol error.
func ClassifyError(err error) string {
	if err == nil {
		return "none"
	}

	if errors.Is(err, context.Canceled) {
		return "context_cancelled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "context_deadline"
	}
	if errors.Is(err, ErrNamespaceNotFound) {
		return "not_found"
	}
	if errors.Is(err, ErrNoAvailableService) {
		return "no_available_service"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return "timeout"
	case strings.Contains(msg, "connection"), strings.Contains(msg, "network"):
		return "network"
	default:
		return "unknown"
	}
}

// NamespaceNotReleasedError reports a 404 from the Config Service with the
// endpoint that returned it, surfaced with explicit operator guidance.
type NamespaceNotReleasedError struct {
	Namespace string
	Endpoint  string
}

func (e *NamespaceNotReleasedError) Error() string {
	return fmt.Sprintf("confsync: namespace %q not yet released on %s (has a release been published?)", e.Namespace, e.Endpoint)
}

func (e *NamespaceNotReleasedError) Unwrap() error {
	return ErrNamespaceNotFound
}
