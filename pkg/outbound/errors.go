package outbound

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/metriport/ihe-gateway/pkg/ihe"
)

// TimeoutError is returned when a gateway did not answer within the per-call
// timeout.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout of %dms exceeded", e.Timeout.Milliseconds())
}

func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// prepareError marks a failure to build or sign the request. These are
// local problems and are neither retried nor treated as network noise.
type prepareError struct {
	err error
}

func (e *prepareError) Error() string { return e.err.Error() }
func (e *prepareError) Unwrap() error { return e.err }

// noisyErrors are substrings of transport failures that happen routinely on
// the network and do not need an operator.
var noisyErrors = []string{
	"ECONNRESET",
	"connection reset by peer",
	"Request failed with status code 500",
	"Request failed with status code 502",
	"Bad Gateway",
	"timeout of",
}

// ShouldReportOutboundError reports whether a failed exchange with a remote
// gateway is worth alerting on. Known network noise is not; everything else
// is. The failure is returned to the caller either way.
func ShouldReportOutboundError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, noise := range noisyErrors {
		if strings.Contains(msg, noise) {
			return false
		}
	}
	return true
}

// retryable reports whether another attempt may succeed
func retryable(err error) bool {
	var prep *prepareError
	if errors.As(err, &prep) {
		return false
	}
	return !ShouldReportOutboundError(err)
}

// failureIssue converts a failed exchange into the issue carried by the
// gateway's result.
func failureIssue(err error) ihe.Issue {
	var prep *prepareError
	if errors.As(err, &prep) {
		return ihe.NewIssue(ihe.SeverityError, ihe.CodeProcessing, err.Error())
	}
	return ihe.NewIssue(ihe.SeverityError, ihe.CodeHTTPError, err.Error())
}

func unresolvedIssue(err error) ihe.Issue {
	return ihe.NewIssue(ihe.SeverityError, ihe.CodeNotFound, err.Error())
}
