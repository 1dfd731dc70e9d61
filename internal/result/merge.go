package result

import "time"

// MergedTable is the stacked table of several query results.
type MergedTable struct {
	*Table
	Elapsed time.Duration
	Success bool
}

// Merge stacks the results in the given order. Any unsuccessful result fails
// the whole merge; index detection runs independently for each result.
func Merge(results []RawResult) (*MergedTable, error) {
	if len(results) == 0 {
		return nil, &EmptyMergeError{}
	}

	var elapsed time.Duration
	for i, r := range results {
		if !r.Success {
			return nil, &PartialFailureError{Query: r.Query, Position: i, Status: r.Status()}
		}
		elapsed += r.Elapsed
	}

	parts := make([]segmentRows, 0, len(results))
	total := 0
	for _, r := range results {
		records, err := r.Records()
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			parts = append(parts, segmentRows{Segment: Segment{Query: r.Query}})
			continue
		}
		seg := normalizeSegment(r.Query, records)
		total += len(seg.rows)
		parts = append(parts, seg)
	}
	if total == 0 {
		return nil, &EmptyResultError{Query: results[0].Query}
	}

	return &MergedTable{
		Table:   newTable(parts),
		Elapsed: elapsed,
		Success: true,
	}, nil
}
