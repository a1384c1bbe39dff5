package circuitbreaker

import (
	"context"
	"errors"
	"net"
	"os"
)

// statusError matches upstream.APIError without importing it.
type statusError interface {
	HTTPStatus() int
}

// Weight scores an upstream error for the sliding window. Client-caused
// 4xx responses carry no weight: they say nothing about provider
// health. Rate limiting counts half, timeouts more than a plain 5xx
// because they also burned the full deadline.
func Weight(err error) float64 {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return 1.5
	}
	var se statusError
	if errors.As(err, &se) {
		return weightStatus(se.HTTPStatus())
	}
	var ne *net.OpError
	if errors.As(err, &ne) {
		return 1.0
	}
	// Unclassified failures count as provider faults.
	return 1.0
}

func weightStatus(code int) float64 {
	switch {
	case code == 429:
		return 0.5
	case code >= 500:
		return 1.0
	case code >= 400:
		return 0.0
	default:
		return 0.0
	}
}
