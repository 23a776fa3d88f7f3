package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/guiofsaints/procureflow-sub000/internal/errx"
)

// StatusError maps an HTTP status returned by a provider API to a typed
// provider failure. message is the provider's own description.
func StatusError(provider string, status int, message string, cause error) *errx.Error {
	if cause == nil {
		cause = fmt.Errorf("status %d: %s", status, message)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errx.Provider(errx.AuthFailure, provider, "provider rejected credentials", cause)
	case status == http.StatusTooManyRequests:
		return errx.Provider(errx.RateLimited, provider, "provider rate limit reached", cause)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return errx.Provider(errx.Timeout, provider, "provider timed out", cause)
	case status >= 500:
		// Anthropic reports overload as 529.
		return errx.Provider(errx.Unavailable, provider, "provider unavailable", cause)
	default:
		return errx.Provider(errx.InvalidResponse, provider, "provider rejected the request", cause)
	}
}

// TransportError maps a failure that produced no HTTP status.
func TransportError(provider string, err error) *errx.Error {
	if e, ok := errx.As(err); ok {
		return e
	}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return errx.Provider(errx.Timeout, provider, "provider request timed out", err)
	case errors.Is(err, context.Canceled):
		return errx.Provider(errx.Timeout, provider, "provider request cancelled", err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return errx.Provider(errx.Timeout, provider, "provider request timed out", err)
	default:
		return errx.Provider(errx.Unavailable, provider, "provider unreachable", err)
	}
}

// MalformedError reports a response body that could not be understood.
func MalformedError(provider string, err error) *errx.Error {
	return errx.Provider(errx.InvalidResponse, provider, "malformed provider response", err)
}

// RequestError reports a request that could not be encoded or built. Sending
// it again would fail the same way, so it is not transient.
func RequestError(provider string, err error) *errx.Error {
	return errx.Provider(errx.InvalidResponse, provider, "provider request could not be built", err)
}
