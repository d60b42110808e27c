package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Fetch failure classes.
var (
	ErrTimeout            = errors.New("timeout")
	ErrNetwork            = errors.New("network failure")
	ErrUnsupportedContent = errors.New("unsupported content type")
	ErrFetch              = errors.New("fetch failed")
)

// FetchError wraps a fetch failure together with its class.
type FetchError struct {
	URL   string
	Class error
	Err   error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Class)
	}
	return fmt.Sprintf("fetch %s: %v: %v", e.URL, e.Class, e.Err)
}

// Unwrap exposes both the class and the cause to errors.Is.
func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Class}
	}
	return []error{e.Class, e.Err}
}

// ClassifyFetchError wraps err in a FetchError with the matching class.
func ClassifyFetchError(url string, err error) error {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return err
	}
	return &FetchError{URL: url, Class: classOf(err), Err: err}
}

func classOf(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrNetwork
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrNetwork
	}
	return ErrFetch
}
