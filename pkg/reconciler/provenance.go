package reconciler

import (
	"fmt"

	"github.com/agentstation/fleethold/pkg/interval"
)

// Provenance renders the hold comment attached to a placed hold. It names
// the source, the foreign record and the free window so an operator can
// trace a hold back to the record that caused it.
func Provenance(source, vehicleType, key, plate, status string, free interval.Interval) string {
	hold := "hold"
	if status != "" {
		hold = fmt.Sprintf("hold (%s)", status)
	}
	return fmt.Sprintf("%s\n%s (%s) with number %s\n%s: from %s to %s (%d, %d)",
		source, vehicleType, key, plate, hold,
		free.StartDisplay(), free.EndDisplay(),
		free.Start().Unix(), free.End().Unix())
}
