// Package sources defines the interface shared by the foreign vehicle
// sources reconciled against the internal fleet.
package sources

import (
	"context"

	"github.com/agentstation/fleethold/pkg/fleet"
)

// Source fetches the foreign records of one company.
type Source interface {
	// ID returns the provenance label stamped on every record.
	ID() string
	// Fetch returns the source's current records.
	Fetch(ctx context.Context) ([]fleet.ForeignRecord, error)
}

// Static is a Source serving records already in memory.
type Static struct {
	Label   string
	Records []fleet.ForeignRecord
}

// ID implements Source.
func (s *Static) ID() string { return s.Label }

// Fetch implements Source.
func (s *Static) Fetch(ctx context.Context) ([]fleet.ForeignRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Records, nil
}
