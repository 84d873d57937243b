package holds

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/fleethold/internal/ledger"
	"github.com/agentstation/fleethold/internal/sources/fleetapi"
	"github.com/agentstation/fleethold/pkg/errors"
	"github.com/agentstation/fleethold/pkg/fleet"
	"github.com/agentstation/fleethold/pkg/interval"
	"github.com/agentstation/fleethold/pkg/reconciler"
)

type fakePlacer struct {
	mu      sync.Mutex
	scripts map[string][]error
	calls   map[string]int
	holds   []fleetapi.Hold
	tags    []string
}

func newFakePlacer(scripts map[string][]error) *fakePlacer {
	return &fakePlacer{scripts: scripts, calls: map[string]int{}}
}

func (f *fakePlacer) next(id string) error {
	n := f.calls[id]
	f.calls[id]++
	script := f.scripts[id]
	if n < len(script) {
		return script[n]
	}
	return nil
}

func (f *fakePlacer) PlaceHold(_ context.Context, tagName string, h fleetapi.Hold) (*fleetapi.TagResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags = append(f.tags, tagName)
	if err := f.next(h.CarID); err != nil {
		return nil, err
	}
	f.holds = append(f.holds, h)
	return &fleetapi.TagResponse{}, nil
}

func (f *fakePlacer) TagDuplicate(_ context.Context, carID string) (*fleetapi.TagResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags = append(f.tags, fleetapi.DuplicateTag)
	if err := f.next(carID); err != nil {
		return nil, err
	}
	return &fleetapi.TagResponse{}, nil
}

var base = time.Now().Add(24 * time.Hour).Truncate(time.Second)

func candidate(id string, offset int) reconciler.HoldCandidate {
	start := base.Add(time.Duration(offset) * time.Hour)
	return reconciler.HoldCandidate{
		VehicleID:   id,
		PlateNumber: "P" + id,
		Free:        interval.Must(start, start.Add(2*time.Hour), time.UTC),
		Provenance:  "takamol\ncomment " + id,
	}
}

var (
	connErr     = &errors.APIError{Provider: "fleet", Message: "connection refused"}
	serverErr   = errors.NewAPIError("fleet", http.StatusBadGateway, "bad gateway")
	conflictErr = errors.NewAPIError("fleet", http.StatusConflict, "conflict")
	badReqErr   = errors.NewAPIError("fleet", http.StatusBadRequest, "bad request")
	emptyErr    = errors.NewResourceError("place", "tag hold", "x", errors.New("response has no tagged objects"))
)

func TestPlace(t *testing.T) {
	placer := newFakePlacer(map[string][]error{
		"retry-ok":  {connErr, serverErr},
		"held":      {conflictErr},
		"rejected":  {badReqErr},
		"empty":     {emptyErr},
		"exhausted": {connErr, connErr, connErr, connErr},
	})
	p := New(placer, "hold_tag", WithRetryDelay(0))

	report, err := p.Place(context.Background(), []reconciler.HoldCandidate{
		candidate("ok", 0),
		candidate("retry-ok", 1),
		candidate("held", 2),
		candidate("rejected", 3),
		candidate("empty", 4),
		candidate("exhausted", 5),
	})
	require.NoError(t, err)

	assert.Equal(t, 6, report.Total)
	assert.Equal(t, 2, report.Placed)
	assert.Equal(t, 1, report.AlreadyHeld)
	assert.Equal(t, 3, report.Failed)

	assert.Equal(t, 3, placer.calls["retry-ok"])
	assert.Equal(t, 1, placer.calls["held"])
	assert.Equal(t, 1, placer.calls["rejected"], "client errors are not retried")
	assert.Equal(t, 1, placer.calls["empty"])
	assert.Equal(t, 3, placer.calls["exhausted"])

	byID := map[string]Record{}
	for _, rec := range report.Records {
		byID[rec.VehicleID] = rec
	}
	assert.Equal(t, StatusPlaced, byID["retry-ok"].Status)
	assert.Equal(t, 3, byID["retry-ok"].Attempts)
	assert.Equal(t, StatusFailed, byID["exhausted"].Status)
	assert.Contains(t, byID["exhausted"].Error, "connection refused")

	for _, tag := range placer.tags {
		assert.Equal(t, "hold_tag", tag)
	}
	require.Len(t, placer.holds, 2)
	assert.Equal(t, "takamol\ncomment ok", placer.holds[0].Comment)
	assert.True(t, base.Equal(placer.holds[0].Since))
}

func TestPlaceUsesLedger(t *testing.T) {
	l := ledger.NewMemory()
	placer := newFakePlacer(map[string][]error{"held": {conflictErr}})
	p := New(placer, "hold_tag", WithLedger(l), WithRetries(1))

	holds := []reconciler.HoldCandidate{candidate("a", 0), candidate("held", 1), candidate("b", 2)}
	first, err := p.Place(context.Background(), holds)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Placed)
	assert.Equal(t, 1, first.AlreadyHeld)
	assert.Equal(t, 3, l.Len())

	second, err := p.Place(context.Background(), holds)
	require.NoError(t, err)
	assert.Equal(t, 3, second.Recorded)
	assert.Zero(t, second.Placed)
	assert.Equal(t, 1, placer.calls["a"])
}

func TestPlaceStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	placer := newFakePlacer(nil)
	report, err := New(placer, "t").Place(ctx, []reconciler.HoldCandidate{candidate("a", 0)})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, report.Records)
}

func TestPlaceCancelDuringRetryDelay(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	placer := newFakePlacer(map[string][]error{"a": {connErr, connErr, connErr}})
	report, err := New(placer, "t", WithRetryDelay(time.Hour)).Place(ctx, []reconciler.HoldCandidate{candidate("a", 0)})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, placer.calls["a"])
}

func TestSuccessRows(t *testing.T) {
	since := time.Unix(1700000000, 0)
	records := []Record{
		{VehicleID: "1", PlateNumber: "12345B", Since: since, Until: since.Add(time.Hour), Comment: "c", Status: StatusPlaced, Attempts: 1},
		{VehicleID: "2", Status: StatusFailed},
	}
	rows := SuccessRows(records)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"1", "12345B", "1700000000000000", "1700003600000000", "c", "1"}, rows[0])
	assert.Len(t, (&Report{Records: records}).Successful(), 1)
}

func TestTagDuplicates(t *testing.T) {
	placer := newFakePlacer(map[string][]error{"2": {serverErr}})
	report, err := TagDuplicates(context.Background(), placer, []fleet.InternalVehicle{
		{ID: "1", PlateNumber: "111A"},
		{ID: "2", PlateNumber: "111A"},
		{ID: "3", PlateNumber: "222B"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Tagged)
	assert.Contains(t, report.Failed, "2")
	for _, tag := range placer.tags {
		assert.Equal(t, fleetapi.DuplicateTag, tag)
	}
}

func TestTransient(t *testing.T) {
	assert.True(t, transient(connErr))
	assert.True(t, transient(serverErr))
	assert.False(t, transient(conflictErr))
	assert.False(t, transient(badReqErr))
	assert.False(t, transient(emptyErr))
	assert.False(t, transient(context.Canceled))
}
