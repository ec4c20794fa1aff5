package batch

import (
	"fmt"
	"testing"

	"github.com/answerdesk/answerdesk-back/internal/domain"
)

func makeRows(count int) []*domain.Row {
	rows := make([]*domain.Row, 0, count)
	for index := 0; index < count; index++ {
		rows = append(rows, &domain.Row{
			ID:        fmt.Sprintf("row-%d", index+1),
			RowNumber: index + 1,
			Status:    domain.RowStatusPending,
		})
	}
	return rows
}

func TestPartitionSplitsWithShortTail(t *testing.T) {
	batches := Partition(makeRows(25), 10)

	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	sizes := []int{len(batches[0]), len(batches[1]), len(batches[2])}
	expected := []int{10, 10, 5}
	for index := range expected {
		if sizes[index] != expected[index] {
			t.Fatalf("expected batch sizes %v, got %v", expected, sizes)
		}
	}
}

func TestPartitionKeepsEveryRowExactlyOnce(t *testing.T) {
	rows := makeRows(17)
	batches := Partition(rows, 4)

	seen := make(map[string]int)
	for _, batch := range batches {
		for _, row := range batch {
			seen[row.ID]++
		}
	}
	if len(seen) != len(rows) {
		t.Fatalf("expected %d distinct rows across batches, got %d", len(rows), len(seen))
	}
	for id, count := range seen {
		if count != 1 {
			t.Fatalf("expected row %s to appear once, appeared %d times", id, count)
		}
	}
}

func TestPartitionPreservesOrder(t *testing.T) {
	batches := Partition(makeRows(9), 3)

	previous := 0
	for _, batch := range batches {
		for _, row := range batch {
			if row.RowNumber <= previous {
				t.Fatalf("expected ascending row numbers, got %d after %d", row.RowNumber, previous)
			}
			previous = row.RowNumber
		}
	}
}

func TestPartitionSingleBatchWhenSizeExceedsRows(t *testing.T) {
	batches := Partition(makeRows(4), 50)

	if len(batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(batches))
	}
	if len(batches[0]) != 4 {
		t.Fatalf("expected 4 rows in batch, got %d", len(batches[0]))
	}
}

func TestPartitionEmptyInput(t *testing.T) {
	if batches := Partition(nil, 10); len(batches) != 0 {
		t.Fatalf("expected no batches for empty input, got %d", len(batches))
	}
}
