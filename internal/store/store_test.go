package store

import "testing"

func TestChunkRows(t *testing.T) {
	rows := make([]int, 150_000)
	for i := range rows {
		rows[i] = i
	}

	chunks := chunkRows(rows, 11)

	var total int
	for _, c := range chunks {
		if len(c)*11 > maxQueryParams {
			t.Fatalf("chunk of %d rows exceeds param ceiling at 11 params/row", len(c))
		}

		total += len(c)
	}

	if total != len(rows) {
		t.Errorf("chunked %d rows, want %d", total, len(rows))
	}
}

func TestChunkRowsEmpty(t *testing.T) {
	if chunks := chunkRows([]int{}, 5); chunks != nil {
		t.Errorf("expected nil for empty input, got %v", chunks)
	}
}

func TestChunkRowsSingleChunk(t *testing.T) {
	rows := []int{1, 2, 3}

	chunks := chunkRows(rows, 2)
	if len(chunks) != 1 || len(chunks[0]) != 3 {
		t.Errorf("expected 1 chunk of 3, got %v", chunks)
	}
}
