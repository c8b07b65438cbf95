package scheduler

import (
	"sort"

	"github.com/shirou/gopsutil/v4/mem"

	"github.com/stratuscast/gridgen/internal/nwp"
)

const (
	minWorkers = 1
	maxWorkers = 10
)

// MemoryStats returns total and available system memory in bytes.
// Abstracted so tests can feed fixed numbers; production uses gopsutil.
type MemoryStats func() (total, available uint64, err error)

// SystemMemoryStats reads live memory stats from the host.
func SystemMemoryStats() (uint64, uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, err
	}
	return vm.Total, vm.Available, nil
}

// PoolSize computes the global worker count from system memory:
// one worker per 3 GB beyond a 6 GB baseline, clamped to [1,10], and
// halved when available memory is under 8 GB. An explicit override
// wins outright.
func PoolSize(totalBytes, availableBytes uint64, override int) int {
	if override > 0 {
		return override
	}

	const gb = 1 << 30
	totalGB := float64(totalBytes) / gb

	workers := int((totalGB - 6) / 3)
	if workers < minWorkers {
		workers = minWorkers
	}
	if workers > maxWorkers {
		workers = maxWorkers
	}

	if float64(availableBytes)/gb < 8 {
		workers /= 2
		if workers < minWorkers {
			workers = minWorkers
		}
	}
	return workers
}

// Allocate splits the worker pool across models by priority weight:
// a single model takes everything; two models split 60/40; three split
// 40/35/25 with the remainder going to the highest priority; four or
// more split evenly. With two or more models every model gets at least
// two workers, provided the pool is large enough to grant them.
func Allocate(totalWorkers int, models []nwp.ModelConfig) map[string]int {
	ordered := make([]nwp.ModelConfig, len(models))
	copy(ordered, models)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].PriorityWeight != ordered[j].PriorityWeight {
			return ordered[i].PriorityWeight > ordered[j].PriorityWeight
		}
		return ordered[i].ID < ordered[j].ID
	})

	alloc := make(map[string]int, len(ordered))
	switch len(ordered) {
	case 0:
		return alloc
	case 1:
		alloc[ordered[0].ID] = totalWorkers
		return alloc
	case 2:
		first := totalWorkers * 60 / 100
		second := totalWorkers - first
		alloc[ordered[0].ID] = first
		alloc[ordered[1].ID] = second
	case 3:
		weights := []int{40, 35, 25}
		assigned := 0
		for i, m := range ordered {
			n := totalWorkers * weights[i] / 100
			alloc[m.ID] = n
			assigned += n
		}
		// Integer division leftover goes to the highest priority.
		alloc[ordered[0].ID] += totalWorkers - assigned
	default:
		each := totalWorkers / len(ordered)
		for _, m := range ordered {
			alloc[m.ID] = each
		}
	}

	enforceMinimum(alloc, ordered, totalWorkers)
	return alloc
}

// enforceMinimum raises every model to at least two workers, funding
// the bumps from whoever holds the most, without growing the total.
func enforceMinimum(alloc map[string]int, ordered []nwp.ModelConfig, totalWorkers int) {
	const floor = 2
	if totalWorkers < floor*len(ordered) {
		// Pool too small for the guarantee; give everyone at least one.
		for _, m := range ordered {
			if alloc[m.ID] < 1 {
				alloc[m.ID] = 1
			}
		}
		trimToTotal(alloc, ordered, totalWorkers)
		return
	}

	for _, m := range ordered {
		for alloc[m.ID] < floor {
			donor := richestModel(alloc, ordered, m.ID)
			if donor == "" || alloc[donor] <= floor {
				break
			}
			alloc[donor]--
			alloc[m.ID]++
		}
	}
}

func richestModel(alloc map[string]int, ordered []nwp.ModelConfig, exclude string) string {
	best := ""
	for _, m := range ordered {
		if m.ID == exclude {
			continue
		}
		if best == "" || alloc[m.ID] > alloc[best] {
			best = m.ID
		}
	}
	return best
}

// trimToTotal shaves excess workers from the lowest-priority models so
// the sum never exceeds the pool.
func trimToTotal(alloc map[string]int, ordered []nwp.ModelConfig, totalWorkers int) {
	sum := 0
	for _, n := range alloc {
		sum += n
	}
	for i := len(ordered) - 1; i >= 0 && sum > totalWorkers; i-- {
		for sum > totalWorkers && alloc[ordered[i].ID] > 0 {
			alloc[ordered[i].ID]--
			sum--
		}
	}
}
