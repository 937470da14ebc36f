package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/JakeFAU/discourse-crawler/internal/crawler"
)

// FetchError describes a failed fetch and the ledger reason it maps to.
type FetchError struct {
	URL        string
	Reason     crawler.FailureReason
	StatusCode int
	Err        error
}

func newFetchError(url string, statusCode int, err error) *FetchError {
	fe := &FetchError{URL: url, StatusCode: statusCode, Err: err}
	fe.Reason = ClassifyError(fe)
	return fe
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ClassifyError maps a transport error to a failure reason. DNS resolution failures win
// over timeouts; HTTP status errors and anything unrecognized map to http_error.
func ClassifyError(err error) crawler.FailureReason {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return crawler.ReasonDNS
	}
	var fe *FetchError
	if errors.As(err, &fe) && fe.StatusCode != 0 {
		return crawler.ReasonHTTP
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return crawler.ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return crawler.ReasonTimeout
	}
	return crawler.ReasonHTTP
}

// FailureReason returns the ledger reason for this failure.
func (e *FetchError) FailureReason() crawler.FailureReason { return e.Reason }
