package inventory

import (
	"sort"
	"strconv"
)

// PlanAllocation picks n serial numbers: reclaimed numbers first (ascending,
// skipping any that is somehow back in use), then a linear scan from
// rangeStart. Fails with ErrRangeExhausted, allocating nothing, when the
// range cannot cover the request. fromPool reports which of the returned
// serials came out of the reclaim pool so the caller can remove them.
func PlanAllocation(inUse map[int64]bool, reclaimed []int64, rangeStart, rangeEnd int64, n int) (serials []string, fromPool []int64, err error) {
	if n <= 0 {
		return nil, nil, &ValidationError{Reason: "allocation count must be positive"}
	}

	picked := make([]int64, 0, n)
	taken := make(map[int64]bool, n)

	pool := append([]int64(nil), reclaimed...)
	sort.Slice(pool, func(i, j int) bool { return pool[i] < pool[j] })
	for _, s := range pool {
		if len(picked) == n {
			break
		}
		if inUse[s] || taken[s] {
			continue // stale pool entry, keep it out of circulation
		}
		picked = append(picked, s)
		taken[s] = true
		fromPool = append(fromPool, s)
	}

	for next := rangeStart; len(picked) < n; next++ {
		if next > rangeEnd {
			return nil, nil, ErrRangeExhausted
		}
		if inUse[next] || taken[next] {
			continue
		}
		picked = append(picked, next)
		taken[next] = true
	}

	serials = make([]string, len(picked))
	for i, s := range picked {
		serials[i] = strconv.FormatInt(s, 10)
	}
	return serials, fromPool, nil
}

// inUseSerials parses the live units' serials into a numeric set. Serials
// assigned before the range was last narrowed still count as in use.
func inUseSerials(serials []string) map[int64]bool {
	m := make(map[int64]bool, len(serials))
	for _, s := range serials {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			m[v] = true
		}
	}
	return m
}

// allocateSerials runs the allocation against the transaction: reads live
// serials plus settings, plans, and removes consumed pool entries. It only
// reserves numbers; the caller creates the units in the same transaction, so
// an abort rolls the reservation back too.
func allocateSerials(tx Tx, n int) ([]string, error) {
	settings, err := tx.SerialSettings()
	if err != nil {
		return nil, err
	}
	live, err := tx.LiveSerials()
	if err != nil {
		return nil, err
	}
	reclaimed, err := tx.ReclaimedSerials()
	if err != nil {
		return nil, err
	}

	serials, fromPool, err := PlanAllocation(inUseSerials(live), reclaimed, settings.RangeStart, settings.RangeEnd, n)
	if err != nil {
		return nil, err
	}
	for _, s := range fromPool {
		if err := tx.RemoveReclaimedSerial(s); err != nil {
			return nil, err
		}
	}
	return serials, nil
}

// reclaimSerial returns a freed serial to the pool for future allocation.
func reclaimSerial(tx Tx, serial string) error {
	v, err := strconv.ParseInt(serial, 10, 64)
	if err != nil {
		return &ValidationError{Reason: "serial is not numeric: " + serial}
	}
	return tx.AddReclaimedSerial(v)
}
