// -----------------------------------------------------------------------
// Context Builder
// Assembles the previous_context string fed to each step's model call
// -----------------------------------------------------------------------

package contextbuild

import (
	"fmt"
	"sort"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/ternarybob/magnet/internal/models"
)

// SubmissionBlock renders the form submission as "label: value" lines,
// sorted by field ID for stable output.
func SubmissionBlock(sub *models.Submission) string {
	if sub == nil || len(sub.Data) == 0 {
		return ""
	}

	fields := make([]string, 0, len(sub.Data))
	for id := range sub.Data {
		fields = append(fields, id)
	}
	sort.Strings(fields)

	var b strings.Builder
	for _, id := range fields {
		fmt.Fprintf(&b, "%s: %v\n", sub.Label(id), sub.Data[id])
	}
	return b.String()
}

// stepBlock renders one dependency step's output, with its generated
// images as a sub-block.
func stepBlock(out *models.StepOutput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Step %d: %s\n%s\n", out.StepIndex+1, out.StepName, out.Output)
	if len(out.ImageURLs) > 0 {
		b.WriteString("Generated Images:\n")
		for _, u := range out.ImageURLs {
			fmt.Fprintf(&b, "- %s\n", u)
		}
	}
	return b.String()
}

// ForStep builds the per-step context: the submission block followed by
// the outputs of the step's dependencies in ascending index order.
func ForStep(sub *models.Submission, dependencies []int, outputs map[int]*models.StepOutput) string {
	var blocks []string
	if form := SubmissionBlock(sub); form != "" {
		blocks = append(blocks, form)
	}

	sorted := append([]int{}, dependencies...)
	sort.Ints(sorted)
	for _, idx := range sorted {
		if out, ok := outputs[idx]; ok && out != nil {
			blocks = append(blocks, stepBlock(out))
		}
	}

	return strings.Join(blocks, "\n")
}

// Accumulated builds the full-history context used for final HTML
// generation: submission block plus every completed step output in index
// order.
func Accumulated(sub *models.Submission, outputs map[int]*models.StepOutput) string {
	indices := make([]int, 0, len(outputs))
	for idx := range outputs {
		indices = append(indices, idx)
	}
	return ForStep(sub, indices, outputs)
}

// Deliverable builds the deliverable projection: steps tagged deliverable
// in the workflow, or the last completed step when none are tagged.
// Tagged steps are emitted in ascending step_order.
func Deliverable(sub *models.Submission, steps []models.Step, outputs map[int]*models.StepOutput) (string, []int) {
	indices := DeliverableIndices(steps, outputs)
	return ForStep(sub, indices, outputs), indices
}

// DeliverableIndices selects the deliverable step indices.
func DeliverableIndices(steps []models.Step, outputs map[int]*models.StepOutput) []int {
	var tagged []int
	for i, step := range steps {
		if step.Deliverable {
			if _, ok := outputs[i]; ok {
				tagged = append(tagged, i)
			}
		}
	}
	if len(tagged) > 0 {
		sort.Slice(tagged, func(a, b int) bool {
			return steps[tagged[a]].StepOrder < steps[tagged[b]].StepOrder
		})
		return tagged
	}

	// Fall back to the last completed step.
	last := -1
	for idx := range outputs {
		if idx > last {
			last = idx
		}
	}
	if last < 0 {
		return nil
	}
	return []int{last}
}

// PreviousImageURLs unions the image URLs of the given dependency steps,
// deduplicated preserving first-seen order.
func PreviousImageURLs(dependencies []int, outputs map[int]*models.StepOutput) []string {
	sorted := append([]int{}, dependencies...)
	sort.Ints(sorted)

	seen := make(map[string]bool)
	var urls []string
	for _, idx := range sorted {
		out, ok := outputs[idx]
		if !ok || out == nil {
			continue
		}
		for _, u := range out.ImageURLs {
			if u == "" || seen[u] {
				continue
			}
			seen[u] = true
			urls = append(urls, u)
		}
	}
	return urls
}

// HTMLToMarkdown converts HTML step output to markdown so downstream
// model calls read prose instead of markup. Conversion failures return
// the input unchanged.
func HTMLToMarkdown(html string) string {
	if !strings.Contains(html, "<") {
		return html
	}
	converter := htmltomarkdown.NewConverter("", true, nil)
	md, err := converter.ConvertString(html)
	if err != nil {
		return html
	}
	return md
}
