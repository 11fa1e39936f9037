package httpclient

import "fmt"

// HTTPError represents an HTTP error response
type HTTPError struct {
	StatusCode int
	Message    string
	URL        string
}

// Error returns the error message. The "status code %d" phrasing is load
// bearing: the pipeline's store-closed detection matches on it.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("request to %s failed with status code %d: %s", e.URL, e.StatusCode, e.Message)
}

// NewHTTPError creates a new HTTP error
func NewHTTPError(statusCode int, url, message string) error {
	return &HTTPError{
		StatusCode: statusCode,
		URL:        url,
		Message:    message,
	}
}

// ThrottleCost is the rate-limit accounting the source platform returns on a
// throttled call. It is used once to compute a delay, then discarded.
type ThrottleCost struct {
	RequestedCost      float64
	ActualCost         float64
	CurrentlyAvailable float64
	MaximumAvailable   float64
	RestoreRate        float64
}

// Cost returns the cost to plan the wait around: the actual cost when the
// platform reported one, the requested cost otherwise.
func (c ThrottleCost) Cost() float64 {
	if c.ActualCost > 0 {
		return c.ActualCost
	}
	return c.RequestedCost
}

// ThrottledError is an explicit rate-limit rejection from the source platform
type ThrottledError struct {
	// Cost carries the platform's throttle accounting, when present
	Cost *ThrottleCost
}

// Error returns the error message
func (e *ThrottledError) Error() string {
	if e.Cost != nil {
		return fmt.Sprintf("throttled: requested cost %.0f, currently available %.0f",
			e.Cost.RequestedCost, e.Cost.CurrentlyAvailable)
	}
	return "throttled"
}

// CredentialError means the platform rejected the caller's identity.
// It is never retried.
type CredentialError struct {
	Message string
}

// Error returns the error message
func (e *CredentialError) Error() string {
	return fmt.Sprintf("invalid credentials: %s", e.Message)
}
