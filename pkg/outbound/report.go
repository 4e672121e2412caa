package outbound

import (
	"context"
	"log/slog"

	"github.com/metriport/ihe-gateway/pkg/ihe"
)

// Alert describes an outbound failure that operators should look at
type Alert struct {
	Transaction ihe.TransactionType
	RequestID   string
	CxID        string
	PatientID   string
	Gateway     ihe.Gateway
	Message     string
	Err         error
}

// Reporter delivers alerts to operators
type Reporter interface {
	Report(ctx context.Context, alert Alert)
}

// LogReporter writes alerts to a logger at error level, tagged alert=true so
// log based alerting can pick them up.
type LogReporter struct {
	Logger *slog.Logger
}

// Report implements Reporter
func (r LogReporter) Report(ctx context.Context, a Alert) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		"alert", true,
		"transaction", a.Transaction,
		"request_id", a.RequestID,
		"cx_id", a.CxID,
		"patient_id", a.PatientID,
		"gateway", a.Gateway.HomeCommunityID,
		"url", a.Gateway.URL,
	}
	if a.Err != nil {
		attrs = append(attrs, "error", a.Err)
	}
	logger.ErrorContext(ctx, a.Message, attrs...)
}
