package taxonomy

import "fmt"

// IndexChange is a sibling whose order_index must be rewritten.
type IndexChange struct {
	ID         int64
	OrderIndex int
}

// Reorder returns ids with moved taken out and reinserted at target. Targets
// outside the list are clamped to its ends. ids is not modified.
func Reorder(ids []int64, moved int64, target int) ([]int64, error) {
	src := -1
	for i, id := range ids {
		if id == moved {
			src = i
			break
		}
	}
	if src < 0 {
		return nil, fmt.Errorf("reorder %d: not among siblings: %w", moved, ErrPreconditionViolated)
	}

	rest := make([]int64, 0, len(ids))
	rest = append(rest, ids[:src]...)
	rest = append(rest, ids[src+1:]...)

	if target < 0 {
		target = 0
	}
	if target > len(rest) {
		target = len(rest)
	}

	out := make([]int64, 0, len(ids))
	out = append(out, rest[:target]...)
	out = append(out, moved)
	out = append(out, rest[target:]...)
	return out, nil
}

// Renumber assigns every id its position in order.
func Renumber(order []int64) map[int64]int {
	indices := make(map[int64]int, len(order))
	for i, id := range order {
		indices[id] = i
	}
	return indices
}

// Diff lists the ids of order whose position differs from current. Ids missing
// from current always change.
func Diff(current map[int64]int, order []int64) []IndexChange {
	var changes []IndexChange
	for i, id := range order {
		if idx, ok := current[id]; ok && idx == i {
			continue
		}
		changes = append(changes, IndexChange{ID: id, OrderIndex: i})
	}
	return changes
}
