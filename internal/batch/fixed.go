package batch

// PlanFixed partitions 1..totalPages into contiguous batches of batchSize pages.
// The last batch is truncated, never padded, and an exact multiple does not
// produce a trailing empty batch.
func PlanFixed(totalPages, batchSize int) (Plan, error) {
	if batchSize <= 0 {
		return nil, ErrInvalidBatchSize
	}
	if totalPages <= 0 {
		return Plan{}, nil
	}

	count := totalPages / batchSize
	if totalPages%batchSize != 0 {
		count++
	}

	plan := make(Plan, 0, count)
	for k := 1; k <= count; k++ {
		end := k * batchSize
		if end > totalPages {
			end = totalPages
		}
		plan = append(plan, Batch{Start: (k-1)*batchSize + 1, End: end})
	}
	return plan, nil
}
