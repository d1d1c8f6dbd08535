// -----------------------------------------------------------------------
// Dependency Resolver
// Normalizes step dependencies and plans execution groups
// -----------------------------------------------------------------------

package dag

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/ternarybob/magnet/internal/models"
)

// ExecutionGroup is one barrier-synchronized batch of steps.
type ExecutionGroup struct {
	GroupIndex       int   `json:"group_index"`
	StepIndices      []int `json:"step_indices"`
	CanRunInParallel bool  `json:"can_run_in_parallel"`
}

// Plan is the resolver output.
type Plan struct {
	ExecutionGroups []ExecutionGroup `json:"execution_groups"`
	TotalSteps      int              `json:"total_steps"`

	// Dependencies holds the normalized dependency set per step index.
	Dependencies map[int][]int `json:"-"`
}

// DependenciesOf returns the normalized dependency indices for a step.
func (p *Plan) DependenciesOf(stepIndex int) []int {
	return p.Dependencies[stepIndex]
}

// Resolve validates the step list and produces the execution plan.
// Validation errors abort the job before any step runs.
func Resolve(steps []models.Step) (*Plan, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("workflow has no steps")
	}

	deps, err := normalizeDependencies(steps)
	if err != nil {
		return nil, err
	}

	if cycle := findCycle(len(steps), deps); cycle != nil {
		return nil, fmt.Errorf("Circular dependency detected: %s", formatCycle(cycle, steps))
	}

	groups, err := buildGroups(len(steps), deps)
	if err != nil {
		return nil, err
	}

	return &Plan{
		ExecutionGroups: groups,
		TotalSteps:      len(steps),
		Dependencies:    deps,
	}, nil
}

// normalizeDependencies coerces every depends_on entry to an array index.
// step_order wins over a bare index; numeric strings are coerced; anything
// else is a validation error. Steps without explicit depends_on implicitly
// depend on every step with a strictly smaller step_order.
func normalizeDependencies(steps []models.Step) (map[int][]int, error) {
	orderToIndex := make(map[int]int, len(steps))
	for i, step := range steps {
		// Duplicate orders keep the first index; auto-detection still
		// works because it compares orders, not indices.
		if _, exists := orderToIndex[step.StepOrder]; !exists {
			orderToIndex[step.StepOrder] = i
		}
	}

	deps := make(map[int][]int, len(steps))
	for i, step := range steps {
		if len(step.DependsOn) == 0 {
			deps[i] = implicitDependencies(steps, i)
			continue
		}

		seen := make(map[int]bool)
		var resolved []int
		for _, raw := range step.DependsOn {
			target, err := coerceDependency(raw, orderToIndex, len(steps))
			if err != nil {
				return nil, fmt.Errorf("step %d (%s): %w", i, step.Name, err)
			}
			if target == i {
				return nil, fmt.Errorf("step %d (%s) depends on itself", i, step.Name)
			}
			if !seen[target] {
				seen[target] = true
				resolved = append(resolved, target)
			}
		}
		sort.Ints(resolved)
		deps[i] = resolved
	}

	return deps, nil
}

// implicitDependencies returns every step with a strictly smaller
// step_order.
func implicitDependencies(steps []models.Step, index int) []int {
	var out []int
	for j, other := range steps {
		if other.StepOrder < steps[index].StepOrder {
			out = append(out, j)
		}
	}
	return out
}

// coerceDependency maps one depends_on entry to an array index:
// step_order match first, then valid array index, else error.
func coerceDependency(raw interface{}, orderToIndex map[int]int, total int) (int, error) {
	n, err := toInt(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid dependency %v: %w", raw, err)
	}
	if idx, ok := orderToIndex[n]; ok {
		return idx, nil
	}
	if n >= 0 && n < total {
		return n, nil
	}
	return 0, fmt.Errorf("dependency %d matches no step_order and is not a valid step index", n)
}

func toInt(raw interface{}) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("non-integer value %v", v)
		}
		return int(v), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("non-numeric value %q", v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", raw)
	}
}

// buildGroups iteratively collects ready steps. An empty ready set before
// completion means a cycle survived normalization; defensive only, as
// findCycle runs first.
func buildGroups(total int, deps map[int][]int) ([]ExecutionGroup, error) {
	completed := make(map[int]bool, total)
	var groups []ExecutionGroup

	for len(completed) < total {
		var ready []int
		for i := 0; i < total; i++ {
			if completed[i] {
				continue
			}
			ok := true
			for _, d := range deps[i] {
				if !completed[d] {
					ok = false
					break
				}
			}
			if ok {
				ready = append(ready, i)
			}
		}

		if len(ready) == 0 {
			return nil, fmt.Errorf("Circular dependency detected: no runnable steps remain")
		}

		groups = append(groups, ExecutionGroup{
			GroupIndex:       len(groups),
			StepIndices:      ready,
			CanRunInParallel: independent(ready, deps),
		})
		for _, i := range ready {
			completed[i] = true
		}
	}

	return groups, nil
}

// independent reports whether no member of the group depends on another
// member.
func independent(group []int, deps map[int][]int) bool {
	members := make(map[int]bool, len(group))
	for _, i := range group {
		members[i] = true
	}
	for _, i := range group {
		for _, d := range deps[i] {
			if members[d] {
				return false
			}
		}
	}
	return true
}

// findCycle runs DFS over the dependency graph and returns one cycle as a
// step-index path, or nil.
func findCycle(total int, deps map[int][]int) []int {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make([]int, total)
	var stack []int
	var cycle []int

	var visit func(int) bool
	visit = func(n int) bool {
		state[n] = inStack
		stack = append(stack, n)
		for _, d := range deps[n] {
			switch state[d] {
			case inStack:
				start := 0
				for i, s := range stack {
					if s == d {
						start = i
						break
					}
				}
				cycle = append(append([]int{}, stack[start:]...), d)
				return true
			case unvisited:
				if visit(d) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[n] = done
		return false
	}

	for i := 0; i < total; i++ {
		if state[i] == unvisited && visit(i) {
			return cycle
		}
	}
	return nil
}

func formatCycle(cycle []int, steps []models.Step) string {
	out := ""
	for i, idx := range cycle {
		if i > 0 {
			out += " -> "
		}
		if idx >= 0 && idx < len(steps) {
			out += fmt.Sprintf("%s (step %d)", steps[idx].Name, idx)
		} else {
			out += strconv.Itoa(idx)
		}
	}
	return out
}
