package contextbuild

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/magnet/internal/models"
)

func testSubmission() *models.Submission {
	return &models.Submission{
		ID:       "sub_1",
		TenantID: "tenant_1",
		Data: map[string]interface{}{
			"field_b": "Acme Corp",
			"field_a": "jane@example.com",
		},
		FieldLabels: map[string]string{
			"field_a": "Email",
			"field_b": "Company",
		},
	}
}

func output(idx int, name, text string, images ...string) *models.StepOutput {
	return &models.StepOutput{
		StepIndex: idx,
		StepName:  name,
		Output:    text,
		ImageURLs: images,
	}
}

func TestSubmissionBlockSortedByFieldID(t *testing.T) {
	block := SubmissionBlock(testSubmission())

	// field_a sorts before field_b regardless of label order.
	assert.Less(t, strings.Index(block, "Email: jane@example.com"), strings.Index(block, "Company: Acme Corp"))
}

func TestSubmissionBlockEmpty(t *testing.T) {
	assert.Empty(t, SubmissionBlock(nil))
	assert.Empty(t, SubmissionBlock(&models.Submission{}))
}

func TestForStepIncludesDependencyOutputs(t *testing.T) {
	outputs := map[int]*models.StepOutput{
		0: output(0, "research", "findings here"),
		1: output(1, "analyze", "analysis here", "https://cdn.test/a.png"),
		2: output(2, "unrelated", "should not appear"),
	}

	got := ForStep(testSubmission(), []int{1, 0}, outputs)

	assert.Contains(t, got, "Email: jane@example.com")
	assert.Contains(t, got, "Step 1: research")
	assert.Contains(t, got, "Step 2: analyze")
	assert.Contains(t, got, "Generated Images:\n- https://cdn.test/a.png")
	assert.NotContains(t, got, "unrelated")

	// Dependencies render in ascending index order.
	assert.Less(t, strings.Index(got, "Step 1: research"), strings.Index(got, "Step 2: analyze"))
}

func TestForStepSkipsMissingOutputs(t *testing.T) {
	got := ForStep(nil, []int{0, 5}, map[int]*models.StepOutput{
		0: output(0, "only", "text"),
	})
	assert.Contains(t, got, "Step 1: only")
	assert.NotContains(t, got, "Step 6")
}

func TestDeliverableTaggedStepsByOrder(t *testing.T) {
	steps := []models.Step{
		{Name: "draft", StepOrder: 3, Deliverable: true},
		{Name: "research", StepOrder: 1},
		{Name: "summary", StepOrder: 2, Deliverable: true},
	}
	outputs := map[int]*models.StepOutput{
		0: output(0, "draft", "the draft"),
		1: output(1, "research", "the research"),
		2: output(2, "summary", "the summary"),
	}

	text, indices := Deliverable(nil, steps, outputs)

	// Tagged steps only, ascending step_order: summary (2) before draft (3).
	assert.Equal(t, []int{2, 0}, indices)
	assert.Less(t, strings.Index(text, "the summary"), strings.Index(text, "the draft"))
	assert.NotContains(t, text, "the research")
}

func TestDeliverableFallsBackToLastCompleted(t *testing.T) {
	steps := []models.Step{
		{Name: "a", StepOrder: 1},
		{Name: "b", StepOrder: 2},
	}
	outputs := map[int]*models.StepOutput{
		0: output(0, "a", "first"),
		1: output(1, "b", "second"),
	}

	_, indices := Deliverable(nil, steps, outputs)
	assert.Equal(t, []int{1}, indices)
}

func TestDeliverableSkipsTaggedWithoutOutput(t *testing.T) {
	steps := []models.Step{
		{Name: "a", StepOrder: 1, Deliverable: true},
		{Name: "b", StepOrder: 2},
	}
	outputs := map[int]*models.StepOutput{
		1: output(1, "b", "done"),
	}

	_, indices := Deliverable(nil, steps, outputs)
	// The tagged step never completed; fall back to the last completed.
	assert.Equal(t, []int{1}, indices)
}

func TestPreviousImageURLsDeduped(t *testing.T) {
	outputs := map[int]*models.StepOutput{
		0: output(0, "a", "", "https://cdn.test/1.png", "https://cdn.test/2.png"),
		1: output(1, "b", "", "https://cdn.test/2.png", "https://cdn.test/3.png", ""),
	}

	got := PreviousImageURLs([]int{1, 0}, outputs)
	assert.Equal(t, []string{
		"https://cdn.test/1.png",
		"https://cdn.test/2.png",
		"https://cdn.test/3.png",
	}, got)
}

func TestHTMLToMarkdown(t *testing.T) {
	md := HTMLToMarkdown("<h1>Title</h1><p>Body text</p>")
	assert.Contains(t, md, "Title")
	assert.Contains(t, md, "Body text")
	assert.NotContains(t, md, "<h1>")

	// Plain text passes through untouched.
	require.Equal(t, "no markup", HTMLToMarkdown("no markup"))
}
