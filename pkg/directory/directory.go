package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/metriport/ihe-gateway/pkg/ihe"
)

var (
	// ErrGatewayNotFound is returned when the directory has no entry for a
	// home community id
	ErrGatewayNotFound = errors.New("gateway not found in directory")
	// ErrTransactionNotSupported is returned when the entry lists no
	// endpoint for the requested transaction
	ErrTransactionNotSupported = errors.New("gateway does not support transaction")
	// ErrInactive is returned for entries outside their activation window
	ErrInactive = errors.New("gateway endpoint is not active")
)

// Entry is one participant's listing: a home community id and its endpoint
// per transaction.
type Entry struct {
	HomeCommunityID   string `json:"homeCommunityId" yaml:"homeCommunityId"`
	Name              string `json:"name,omitempty" yaml:"name"`
	PatientDiscovery  string `json:"xcpd,omitempty" yaml:"xcpd"`
	DocumentQuery     string `json:"xcadq,omitempty" yaml:"xcadq"`
	DocumentRetrieval string `json:"xcadr,omitempty" yaml:"xcadr"`

	// ActivationDate and ExpirationDate bound when the endpoints may be
	// used. Either may be nil.
	ActivationDate *time.Time `json:"activationDate,omitempty" yaml:"activationDate"`
	ExpirationDate *time.Time `json:"expirationDate,omitempty" yaml:"expirationDate"`
}

// URL returns the endpoint for tx, or "" when the entry lists none
func (e *Entry) URL(tx ihe.TransactionType) string {
	switch tx {
	case ihe.PatientDiscovery:
		return e.PatientDiscovery
	case ihe.DocumentQuery:
		return e.DocumentQuery
	case ihe.DocumentRetrieval:
		return e.DocumentRetrieval
	}
	return ""
}

// Active reports whether now falls inside the entry's activation window
func (e *Entry) Active(now time.Time) bool {
	if e.ActivationDate != nil && e.ActivationDate.After(now) {
		return false
	}
	if e.ExpirationDate != nil && e.ExpirationDate.Before(now) {
		return false
	}
	return true
}

// Directory looks up participants by home community id. Ids are compared
// without their urn:oid: prefix.
type Directory interface {
	Lookup(ctx context.Context, homeCommunityID string) (*Entry, error)
}

// Resolve returns gw with its URL filled in for tx. A gateway that already
// carries a URL is returned unchanged.
func Resolve(ctx context.Context, d Directory, gw ihe.Gateway, tx ihe.TransactionType) (ihe.Gateway, error) {
	if gw.URL != "" {
		return gw, nil
	}
	if d == nil {
		return gw, fmt.Errorf("%w: %s", ErrGatewayNotFound, gw.HomeCommunityID)
	}

	entry, err := d.Lookup(ctx, gw.HomeCommunityID)
	if err != nil {
		return gw, err
	}
	if !entry.Active(time.Now()) {
		return gw, fmt.Errorf("%w: %s", ErrInactive, gw.HomeCommunityID)
	}
	url := entry.URL(tx)
	if url == "" {
		return gw, fmt.Errorf("%w: %s has no %s endpoint", ErrTransactionNotSupported, gw.HomeCommunityID, tx)
	}
	gw.URL = url
	return gw, nil
}

// Chain consults each directory in order, moving on only when a directory
// has no entry for the id.
type Chain []Directory

// Lookup implements Directory
func (c Chain) Lookup(ctx context.Context, homeCommunityID string) (*Entry, error) {
	for _, d := range c {
		entry, err := d.Lookup(ctx, homeCommunityID)
		if errors.Is(err, ErrGatewayNotFound) {
			continue
		}
		return entry, err
	}
	return nil, fmt.Errorf("%w: %s", ErrGatewayNotFound, homeCommunityID)
}
