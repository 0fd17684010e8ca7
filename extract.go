package sitepacer

import (
	"fmt"
	"math"
	"net/http"
	"reflect"
	"time"
)

// Elapsed is implemented by responses that know how long they took.
type Elapsed interface {
	Elapsed() time.Duration
}

// TimedResponse pairs an HTTP response with the wall time it took to obtain.
// net/http does not record this, so callers measure it around client.Do.
type TimedResponse struct {
	*http.Response
	Took time.Duration
}

// Elapsed implements Elapsed.
func (r *TimedResponse) Elapsed() time.Duration {
	return r.Took
}

// Extract converts a response to a latency in seconds.
//
// Accepted inputs:
//   - time.Duration
//   - float64, float32 and every integer kind (already seconds)
//   - anything implementing Elapsed, including *TimedResponse
//
// The set is closed: anything else, a nil Elapsed implementer, and any NaN,
// infinite or negative value fail with ErrInvalidResponse.
func Extract(response any) (float64, error) {
	var seconds float64

	switch r := response.(type) {
	case nil:
		return 0, fmt.Errorf("%w: nil response", ErrInvalidResponse)
	case time.Duration:
		seconds = r.Seconds()
	case float64:
		seconds = r
	case float32:
		seconds = float64(r)
	case int:
		seconds = float64(r)
	case int8:
		seconds = float64(r)
	case int16:
		seconds = float64(r)
	case int32:
		seconds = float64(r)
	case int64:
		seconds = float64(r)
	case uint:
		seconds = float64(r)
	case uint8:
		seconds = float64(r)
	case uint16:
		seconds = float64(r)
	case uint32:
		seconds = float64(r)
	case uint64:
		seconds = float64(r)
	case *TimedResponse:
		if r == nil {
			return 0, fmt.Errorf("%w: nil response", ErrInvalidResponse)
		}
		seconds = r.Took.Seconds()
	case Elapsed:
		if isNil(r) {
			return 0, fmt.Errorf("%w: nil %T response", ErrInvalidResponse, r)
		}
		seconds = r.Elapsed().Seconds()
	default:
		return 0, fmt.Errorf("%w: unsupported response type %T", ErrInvalidResponse, response)
	}

	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0, fmt.Errorf("%w: latency %v is not finite", ErrInvalidResponse, seconds)
	}
	if seconds < 0 {
		return 0, fmt.Errorf("%w: latency %v is negative", ErrInvalidResponse, seconds)
	}
	return seconds, nil
}

// isNil reports whether v holds a typed nil.
func isNil(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
