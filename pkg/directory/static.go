package directory

import (
	"context"
	"fmt"

	"github.com/metriport/ihe-gateway/pkg/ihe"
)

// Static is a directory held in memory, typically loaded from configuration
type Static struct {
	entries map[string]Entry
}

// NewStatic indexes entries by home community id. Later entries replace
// earlier ones with the same id.
func NewStatic(entries []Entry) *Static {
	s := &Static{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		e.HomeCommunityID = ihe.NormalizeOID(e.HomeCommunityID)
		s.entries[e.HomeCommunityID] = e
	}
	return s
}

// Lookup implements Directory
func (s *Static) Lookup(_ context.Context, homeCommunityID string) (*Entry, error) {
	e, ok := s.entries[ihe.NormalizeOID(homeCommunityID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGatewayNotFound, homeCommunityID)
	}
	return &e, nil
}

// Len returns the number of entries
func (s *Static) Len() int {
	return len(s.entries)
}
