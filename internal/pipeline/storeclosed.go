package pipeline

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/cartfeed/catalog-sync-server/internal/status"
)

// StoreClosedReason explains why a retailer's store is no longer reachable
type StoreClosedReason string

const (
	// ReasonUninstalled means the retailer uninstalled the app
	ReasonUninstalled StoreClosedReason = "Uninstalled"

	// ReasonPaymentRequired means the store is frozen pending payment
	ReasonPaymentRequired StoreClosedReason = "PaymentRequired"

	// ReasonClosed means the store no longer exists
	ReasonClosed StoreClosedReason = "Closed"
)

// ErrorCode maps the reason to the persisted sync error code
func (r StoreClosedReason) ErrorCode() status.SyncErrorCode {
	switch r {
	case ReasonUninstalled:
		return status.SyncErrorStoreUninstalled
	case ReasonPaymentRequired:
		return status.SyncErrorPaymentRequired
	default:
		return status.SyncErrorStoreClosed
	}
}

// StoreClosedError is the non-retryable terminal condition raised when the
// platform reports the retailer's store as gone
type StoreClosedError struct {
	Reason StoreClosedReason
	Err    error
}

// Error returns the error message
func (e *StoreClosedError) Error() string {
	return fmt.Sprintf("store closed (%s): %v", e.Reason, e.Err)
}

// Unwrap returns the underlying error
func (e *StoreClosedError) Unwrap() error {
	return e.Err
}

// statusCodePattern extracts the HTTP status code that every access error
// in the chain embeds in its message
var statusCodePattern = regexp.MustCompile(`status code (\d{3})`)

// classifyStoreClosed inspects err for the access-error status codes that
// mean the store is gone. It returns nil for everything else, which then
// takes the generic failure path.
func classifyStoreClosed(err error) *StoreClosedError {
	if err == nil {
		return nil
	}

	match := statusCodePattern.FindStringSubmatch(err.Error())
	if match == nil {
		return nil
	}
	code, _ := strconv.Atoi(match[1])

	switch code {
	case 401:
		return &StoreClosedError{Reason: ReasonUninstalled, Err: err}
	case 402:
		return &StoreClosedError{Reason: ReasonPaymentRequired, Err: err}
	case 404:
		return &StoreClosedError{Reason: ReasonClosed, Err: err}
	default:
		return nil
	}
}
