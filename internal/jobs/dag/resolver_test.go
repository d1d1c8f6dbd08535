package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/magnet/internal/models"
)

func step(name string, order int, dependsOn ...interface{}) models.Step {
	return models.Step{
		Name:      name,
		StepOrder: order,
		Kind:      models.StepKindAIGeneration,
		DependsOn: dependsOn,
	}
}

func TestResolveSequentialChain(t *testing.T) {
	steps := []models.Step{
		step("research", 1),
		step("analyze", 2),
		step("write", 3),
	}

	plan, err := Resolve(steps)
	require.NoError(t, err)
	require.Len(t, plan.ExecutionGroups, 3)
	assert.Equal(t, 3, plan.TotalSteps)

	for i, group := range plan.ExecutionGroups {
		assert.Equal(t, i, group.GroupIndex)
		assert.Equal(t, []int{i}, group.StepIndices)
		// Single-member groups still report parallel capability.
		assert.True(t, group.CanRunInParallel)
	}

	// Implicit dependencies: everything with a smaller step_order.
	assert.Empty(t, plan.DependenciesOf(0))
	assert.Equal(t, []int{0}, plan.DependenciesOf(1))
	assert.Equal(t, []int{0, 1}, plan.DependenciesOf(2))
}

func TestResolveParallelFanIn(t *testing.T) {
	steps := []models.Step{
		step("intake", 1),
		step("branch-a", 2, 1),
		step("branch-b", 2, 1),
		step("merge", 3, 2),
	}
	// branch-b shares step_order 2 with branch-a, so merge's dependency on
	// order 2 resolves to the first step carrying that order.
	steps[3].DependsOn = []interface{}{2}

	plan, err := Resolve(steps)
	require.NoError(t, err)
	require.Len(t, plan.ExecutionGroups, 3)

	assert.Equal(t, []int{0}, plan.ExecutionGroups[0].StepIndices)
	assert.Equal(t, []int{1, 2}, plan.ExecutionGroups[1].StepIndices)
	assert.True(t, plan.ExecutionGroups[1].CanRunInParallel)
	assert.Equal(t, []int{3}, plan.ExecutionGroups[2].StepIndices)
}

func TestResolveStepOrderWinsOverIndex(t *testing.T) {
	// Orders are offset from indices: a dependency value of 2 matches step
	// "two" by order, not step "three" by index.
	steps := []models.Step{
		step("one", 1),
		step("two", 2, 1),
		step("three", 3, 2),
	}

	plan, err := Resolve(steps)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, plan.DependenciesOf(1))
	assert.Equal(t, []int{1}, plan.DependenciesOf(2))
}

func TestResolveIndexFallback(t *testing.T) {
	// Orders 10/20/30 leave no match for a dependency of 0, so it falls
	// back to the array index.
	steps := []models.Step{
		step("a", 10),
		step("b", 20, 0),
	}

	plan, err := Resolve(steps)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, plan.DependenciesOf(1))
}

func TestResolveNumericStringCoercion(t *testing.T) {
	steps := []models.Step{
		step("a", 1),
		step("b", 2, "1"),
	}

	plan, err := Resolve(steps)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, plan.DependenciesOf(1))
}

func TestResolveJSONFloatDependencies(t *testing.T) {
	// json.Unmarshal yields float64 for numbers in depends_on.
	steps := []models.Step{
		step("a", 1),
		step("b", 2, float64(1)),
	}

	plan, err := Resolve(steps)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, plan.DependenciesOf(1))
}

func TestResolveInvalidDependencies(t *testing.T) {
	tests := []struct {
		name    string
		steps   []models.Step
		wantErr string
	}{
		{
			name: "non-numeric string",
			steps: []models.Step{
				step("a", 1),
				step("b", 2, "first"),
			},
			wantErr: "non-numeric",
		},
		{
			name: "out of range",
			steps: []models.Step{
				step("a", 1),
				step("b", 2, 7),
			},
			wantErr: "matches no step_order",
		},
		{
			name: "self dependency",
			steps: []models.Step{
				step("a", 1, 1),
			},
			wantErr: "depends on itself",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.steps)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestResolveCycleDetection(t *testing.T) {
	steps := []models.Step{
		step("a", 1, 2),
		step("b", 2, 1),
	}

	_, err := Resolve(steps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Circular")
}

func TestResolveDuplicateDependenciesDeduped(t *testing.T) {
	steps := []models.Step{
		step("a", 1),
		step("b", 2, 1, "1", float64(1)),
	}

	plan, err := Resolve(steps)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, plan.DependenciesOf(1))
}

func TestResolveEmptyWorkflow(t *testing.T) {
	_, err := Resolve(nil)
	require.Error(t, err)
}

func TestResolveDiamond(t *testing.T) {
	// Sparse orders keep 1 and 2 free, so join's depends_on entries resolve
	// as array indices naming both branches.
	steps := []models.Step{
		step("root", 10),
		step("left", 20, 10),
		step("right", 20, 10),
		step("join", 30, 1, 2),
	}

	plan, err := Resolve(steps)
	require.NoError(t, err)
	require.Len(t, plan.ExecutionGroups, 3)
	assert.Equal(t, []int{1, 2}, plan.DependenciesOf(3))
}
