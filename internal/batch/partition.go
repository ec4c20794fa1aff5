package batch

import "github.com/answerdesk/answerdesk-back/internal/domain"

// Partition splits rows into contiguous batches of at most batchSize,
// preserving order. It is pure: every processing pass recomputes the
// partition from the rows it just loaded, so nothing persisted ever pins a
// row to a batch.
func Partition(rows []*domain.Row, batchSize int) [][]*domain.Row {
	if batchSize < 1 {
		batchSize = 1
	}
	if len(rows) == 0 {
		return nil
	}

	batches := make([][]*domain.Row, 0, (len(rows)+batchSize-1)/batchSize)
	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batches = append(batches, rows[start:end])
	}
	return batches
}
