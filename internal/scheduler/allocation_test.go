package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratuscast/gridgen/internal/nwp"
)

const gb = uint64(1) << 30

func TestPoolSize(t *testing.T) {
	tests := []struct {
		name      string
		total     uint64
		available uint64
		override  int
		want      int
	}{
		{"override wins", 4 * gb, 2 * gb, 7, 7},
		{"sixteen gb yields three", 16 * gb, 12 * gb, 0, 3},
		{"thirty gb yields eight", 30 * gb, 20 * gb, 0, 8},
		{"huge host clamps to ten", 64 * gb, 50 * gb, 0, 10},
		{"tiny host floors at one", 4 * gb, 3 * gb, 0, 1},
		{"low available memory halves", 16 * gb, 6 * gb, 0, 1},
		{"halving floors at one", 9 * gb, 2 * gb, 0, 1},
		{"ample available memory unaffected", 36 * gb, 9 * gb, 0, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PoolSize(tt.total, tt.available, tt.override))
		})
	}
}

func modelList(weights ...int) []nwp.ModelConfig {
	ids := []string{"gfs", "hrrr", "aifs", "nam", "rap"}
	models := make([]nwp.ModelConfig, len(weights))
	for i, w := range weights {
		models[i] = nwp.ModelConfig{ID: ids[i], PriorityWeight: w}
	}
	return models
}

func allocSum(alloc map[string]int) int {
	sum := 0
	for _, n := range alloc {
		sum += n
	}
	return sum
}

func TestAllocate(t *testing.T) {
	t.Run("single model takes everything", func(t *testing.T) {
		alloc := Allocate(7, modelList(40))
		assert.Equal(t, map[string]int{"gfs": 7}, alloc)
	})

	t.Run("two models split sixty forty", func(t *testing.T) {
		alloc := Allocate(10, modelList(40, 35))
		assert.Equal(t, 6, alloc["gfs"])
		assert.Equal(t, 4, alloc["hrrr"])
	})

	t.Run("priority orders the split", func(t *testing.T) {
		alloc := Allocate(10, modelList(20, 50))
		assert.Equal(t, 6, alloc["hrrr"], "higher weight gets the larger share")
		assert.Equal(t, 4, alloc["gfs"])
	})

	t.Run("three models split with remainder to highest", func(t *testing.T) {
		alloc := Allocate(10, modelList(40, 35, 25))
		assert.Equal(t, 5, alloc["gfs"], "4 from the 40 percent share plus the leftover")
		assert.Equal(t, 3, alloc["hrrr"])
		assert.Equal(t, 2, alloc["aifs"])
	})

	t.Run("minimum of two enforced when affordable", func(t *testing.T) {
		alloc := Allocate(6, modelList(40, 35, 25))
		for id, n := range alloc {
			assert.GreaterOrEqual(t, n, 2, "model %s below the floor", id)
		}
		assert.Equal(t, 6, allocSum(alloc))
	})

	t.Run("pool smaller than the guarantee never overcommits", func(t *testing.T) {
		alloc := Allocate(3, modelList(40, 35, 25))
		assert.LessOrEqual(t, allocSum(alloc), 3)
		assert.GreaterOrEqual(t, alloc["gfs"], 1, "highest priority model always runs")
	})

	t.Run("four or more split evenly", func(t *testing.T) {
		alloc := Allocate(12, modelList(40, 35, 25, 20))
		for id, n := range alloc {
			assert.Equal(t, 3, n, "model %s", id)
		}
	})

	t.Run("tie broken by model id", func(t *testing.T) {
		alloc := Allocate(10, []nwp.ModelConfig{
			{ID: "zeta", PriorityWeight: 40},
			{ID: "alpha", PriorityWeight: 40},
		})
		assert.Equal(t, 6, alloc["alpha"])
		assert.Equal(t, 4, alloc["zeta"])
	})

	t.Run("no models yields empty allocation", func(t *testing.T) {
		alloc := Allocate(10, nil)
		assert.Empty(t, alloc)
	})

	t.Run("sum never exceeds the pool", func(t *testing.T) {
		for _, total := range []int{1, 2, 3, 5, 8, 10} {
			for n := 1; n <= 5; n++ {
				weights := []int{40, 35, 25, 20, 15}[:n]
				alloc := Allocate(total, modelList(weights...))
				require.LessOrEqual(t, allocSum(alloc), total,
					"total=%d models=%d alloc=%v", total, n, alloc)
			}
		}
	})
}
