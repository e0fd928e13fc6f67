package expgram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawFloatColumn(t *testing.T) {
	col := NewRawFloatColumn(5, []Weight{-1, -2, -3})
	assert.Equal(t, Pos(5), col.Offset())
	assert.Equal(t, 3, col.Len())
	assert.Equal(t, Weight(-2), col.Value(6, 0))

	assert.Panics(t, func() { col.Value(4, 0) })
}

func TestCountColumn(t *testing.T) {
	col := NewCountColumn(2, []uint64{10, 20, 30})
	assert.Equal(t, uint64(20), col.Value(3))
	assert.Panics(t, func() { col.Value(1) })
}

func TestBuildCodebookMonotonic(t *testing.T) {
	// Fewer distinct values than the cap: every value gets its own exact
	// centroid, so decode is lossless (spec §7.4 "quantization-monotonicity").
	values := []Weight{-5, -1, -3, -1, -5, -2}
	centroids, codes := BuildCodebook(values)
	require.LessOrEqual(t, len(centroids), maxCodebookSize)

	for i := 1; i < len(centroids); i++ {
		assert.Less(t, centroids[i-1], centroids[i], "centroids must stay sorted")
	}
	for i, v := range values {
		got := centroids[codes[i]]
		assert.InDelta(t, float64(v), float64(got), 1e-6, "exact value should round-trip when under the cap")
	}
}

func TestBuildCodebookOrderPreserving(t *testing.T) {
	// More distinct values than the cap: clustering must still preserve
	// value ordering across codes (monotonic decode, even if lossy).
	values := make([]Weight, 0, 600)
	for i := 0; i < 600; i++ {
		values = append(values, Weight(-float32(i)*0.01))
	}
	centroids, codes := BuildCodebook(values)
	assert.LessOrEqual(t, len(centroids), maxCodebookSize)

	for i := 1; i < len(values); i++ {
		if values[i] == values[i-1] {
			continue
		}
		// values is strictly decreasing; decoded centroids must not
		// reverse that order.
		assert.LessOrEqual(t, centroids[codes[i]], centroids[codes[i-1]])
	}
}

func TestQuantizedFloatColumnDecode(t *testing.T) {
	values := []Weight{-1, -2, -3, -4, -5}
	centroids, codes := BuildCodebook(values)
	cb := NewCodebook(1)
	cb.Centroids[1] = centroids
	col := NewQuantizedFloatColumn(0, codes, cb)
	for i, v := range values {
		assert.InDelta(t, float64(v), float64(col.Value(Pos(i), 1)), 1e-6)
	}
}
