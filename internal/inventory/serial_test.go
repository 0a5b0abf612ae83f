package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanAllocationSequential(t *testing.T) {
	serials, fromPool, err := PlanAllocation(nil, nil, 100000, 99999999, 3)

	require.NoError(t, err)
	assert.Equal(t, []string{"100000", "100001", "100002"}, serials)
	assert.Empty(t, fromPool)
}

func TestPlanAllocationSkipsInUse(t *testing.T) {
	inUse := map[int64]bool{100000: true, 100002: true}

	serials, _, err := PlanAllocation(inUse, nil, 100000, 99999999, 2)

	require.NoError(t, err)
	assert.Equal(t, []string{"100001", "100003"}, serials)
}

func TestPlanAllocationPrefersReclaimed(t *testing.T) {
	// 100003 is back in use, so the pool entry is stale and must be skipped
	inUse := map[int64]bool{100003: true}
	reclaimed := []int64{100007, 100003}

	serials, fromPool, err := PlanAllocation(inUse, reclaimed, 100000, 99999999, 2)

	require.NoError(t, err)
	assert.Equal(t, []string{"100007", "100000"}, serials)
	assert.Equal(t, []int64{100007}, fromPool)
}

func TestPlanAllocationRangeExhausted(t *testing.T) {
	serials, _, err := PlanAllocation(nil, nil, 100000, 100002, 3)
	require.NoError(t, err)
	require.Len(t, serials, 3)

	inUse := map[int64]bool{100000: true, 100001: true, 100002: true}
	serials, fromPool, err := PlanAllocation(inUse, nil, 100000, 100002, 1)

	require.ErrorIs(t, err, ErrRangeExhausted)
	assert.Nil(t, serials)
	assert.Nil(t, fromPool)
}

func TestPlanAllocationReclaimedOnlyWhenRangeFull(t *testing.T) {
	// every number in range is taken, but one came back to the pool
	inUse := map[int64]bool{100000: true, 100002: true}

	serials, fromPool, err := PlanAllocation(inUse, []int64{100001}, 100000, 100002, 1)

	require.NoError(t, err)
	assert.Equal(t, []string{"100001"}, serials)
	assert.Equal(t, []int64{100001}, fromPool)
}

func TestPlanAllocationRejectsNonPositiveCount(t *testing.T) {
	for _, n := range []int{0, -1} {
		_, _, err := PlanAllocation(nil, nil, 100000, 99999999, n)

		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
	}
}
