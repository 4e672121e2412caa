package correlation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/metriport/ihe-gateway/pkg/ihe"
)

// ErrNotFound is returned when no record exists for a request id
var ErrNotFound = errors.New("correlation record not found")

// DefaultRetention bounds how long an unread record is kept
const DefaultRetention = 24 * time.Hour

// Record accumulates the results of one outbound request across every
// gateway it was fanned out to.
type Record struct {
	RequestID   string              `json:"requestId" bson:"_id"`
	PatientID   string              `json:"patientId" bson:"patient_id"`
	CxID        string              `json:"cxId" bson:"cx_id"`
	Transaction ihe.TransactionType `json:"transaction" bson:"transaction"`

	// Expected is the number of gateways the request was sent to, or 0
	// when unknown.
	Expected int `json:"expected" bson:"expected"`

	// Forwarded counts the leading results already handed off while the
	// record was incomplete.
	Forwarded int `json:"forwarded" bson:"forwarded"`

	Results   []json.RawMessage `json:"results" bson:"results"`
	CreatedAt time.Time         `json:"createdAt" bson:"created_at"`
	UpdatedAt time.Time         `json:"updatedAt" bson:"updated_at"`
}

// Complete reports whether every expected result has landed
func (r *Record) Complete() bool {
	return r.Expected > 0 && len(r.Results) >= r.Expected
}

// Pending returns the results not yet handed off
func (r *Record) Pending() []json.RawMessage {
	if r.Forwarded >= len(r.Results) {
		return nil
	}
	return r.Results[r.Forwarded:]
}

// Store persists results keyed by request id. Implementations must accept
// concurrent Append calls for the same id; a Fetch racing an Append
// returns whatever has landed so far.
type Store interface {
	// Begin records the request metadata, Forwarded included. The record
	// is created if it does not exist yet; results already stored are kept.
	Begin(ctx context.Context, rec Record) error

	// Append adds one result, creating a bare record when Begin has not
	// been called.
	Append(ctx context.Context, requestID string, result json.RawMessage) error

	// Fetch returns the record or ErrNotFound
	Fetch(ctx context.Context, requestID string) (*Record, error)

	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, requestID string) error

	// List returns every record, oldest first
	List(ctx context.Context) ([]*Record, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Add marshals result and appends it to the record of requestID
func Add(ctx context.Context, s Store, requestID string, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding result for %s: %w", requestID, err)
	}
	return s.Append(ctx, requestID, data)
}

// Decode unmarshals every stored result of rec into T
func Decode[T any](rec *Record) ([]T, error) {
	out := make([]T, 0, len(rec.Results))
	for i, raw := range rec.Results {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decoding result %d of %s: %w", i, rec.RequestID, err)
		}
		out = append(out, v)
	}
	return out, nil
}
