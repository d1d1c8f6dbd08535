// -----------------------------------------------------------------------
// AI Generation Handler
// Runs one model-backed step, including its tool loops
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/magnet/internal/common"
	"github.com/ternarybob/magnet/internal/interfaces"
	"github.com/ternarybob/magnet/internal/jobs/contextbuild"
	"github.com/ternarybob/magnet/internal/jobs/loops"
	"github.com/ternarybob/magnet/internal/models"
	"github.com/ternarybob/magnet/internal/services/llm"
	"github.com/ternarybob/magnet/internal/services/shell"
)

// defaultModel is used when a step does not name one.
const defaultModel = "gpt-5"

// AIGenerationHandler executes ai_generation steps.
type AIGenerationHandler struct {
	deps *Deps
}

func (h *AIGenerationHandler) Execute(ctx context.Context, ec *ExecContext, stepIndex int) (*models.StepOutput, error) {
	step := ec.Workflow.Steps[stepIndex]
	started := time.Now()

	model := step.Model
	if model == "" {
		model = defaultModel
	}

	previousContext := ec.PreviousContext(stepIndex)
	prevImages := contextbuild.PreviousImageURLs(ec.Dependencies[stepIndex], ec.StepOutputs)

	req := h.buildRequest(ctx, model, step, previousContext, prevImages)
	llm.NormalizeRequest(req)

	sink := h.imageSink(ec, stepIndex)
	outputText, usage, imageURLs, err := h.dispatch(ctx, ec, stepIndex, step, req, sink)

	record := newRecord(step, stepIndex, started)
	record.Input = requestDetails(req, prevImages)
	record.DurationMS = time.Since(started).Milliseconds()

	if err != nil {
		record.Success = false
		record.Error = common.RedactSecrets(err.Error())
		if recErr := recordStep(ctx, h.deps, ec, record); recErr != nil {
			h.deps.Logger.Warn().Err(recErr).Msg("Failed to persist failed step record")
		}
		return nil, fmt.Errorf("ai generation step %q failed: %w", step.Name, err)
	}

	// Base64 assets embedded in JSON output become artifact URLs; the
	// document is rewritten around them.
	outputText, assetURLs := llm.RewriteBase64Assets(ctx, outputText, sink, h.deps.Logger)
	imageURLs = append(imageURLs, assetURLs...)

	artifactID := ""
	if outputText != "" {
		artifact, upErr := h.deps.Artifacts.UploadText(ctx, ec.Job.TenantID, ec.Job.ID,
			fmt.Sprintf("step_%d_output.md", stepIndex+1), outputText, models.ArtifactKindMarkdown)
		if upErr != nil {
			h.deps.Logger.Warn().Err(upErr).Msg("Failed to store step output artifact")
		} else {
			artifactID = artifact.ID
		}
	}

	var imageArtifactIDs []string
	for _, u := range imageURLs {
		artifact, imgErr := h.deps.Artifacts.StoreImageFromURL(ctx, ec.Job.TenantID, ec.Job.ID, u)
		if imgErr != nil {
			h.deps.Logger.Warn().Err(imgErr).Str("url", u).Msg("Failed to store image artifact")
			continue
		}
		imageArtifactIDs = append(imageArtifactIDs, artifact.ID)
	}

	h.deps.Usage.Record(ctx, ec.Job.TenantID, ec.Job.ID, model, "ai_generation", usage)

	record.Success = true
	record.Output = outputText
	record.ImageURLs = imageURLs
	record.Usage = &usage
	record.ArtifactID = artifactID
	if err := recordStep(ctx, h.deps, ec, record); err != nil {
		return nil, err
	}

	return &models.StepOutput{
		StepName:         step.Name,
		StepIndex:        stepIndex,
		Output:           outputText,
		ArtifactID:       artifactID,
		ImageURLs:        imageURLs,
		ImageArtifactIDs: imageArtifactIDs,
	}, nil
}

// buildRequest assembles the model request, attaching previous images
// only when the model/tool combination accepts them.
func (h *AIGenerationHandler) buildRequest(ctx context.Context, model string, step models.Step, previousContext string, prevImages []string) *interfaces.ModelRequest {
	text := llm.BuildTextInput(previousContext, step.Instructions)

	var input interface{} = text
	if len(prevImages) > 0 && llm.SupportsImageInput(model, step.Tools) {
		prepared := h.deps.Pipeline.PrepareInputs(ctx, prevImages)
		if len(prepared) > 0 {
			input = llm.BuildMessageInput(text, prepared)
		}
	}

	tools := make([]models.Tool, len(step.Tools))
	for i, t := range step.Tools {
		tools[i] = t.Clone()
	}

	return &interfaces.ModelRequest{
		Model:      model,
		Input:      input,
		Tools:      tools,
		ToolChoice: step.ToolChoice,
	}
}

// dispatch routes the call through the tool loop the step's tools demand.
func (h *AIGenerationHandler) dispatch(ctx context.Context, ec *ExecContext, stepIndex int, step models.Step, req *interfaces.ModelRequest, sink llm.ImageSink) (string, models.Usage, []string, error) {
	switch {
	case step.HasTool(llm.ToolComputerUsePreview):
		loop := &loops.ComputerLoop{
			Provider:      h.deps.Provider,
			Drivers:       h.deps.Drivers,
			Events:        h.deps.Events,
			Screenshots:   h.screenshotSink(ec, stepIndex),
			MaxIterations: h.deps.Config.Computer.MaxIterations,
			Timeout:       time.Duration(h.deps.Config.Computer.TimeoutSec) * time.Second,
			Logger:        h.deps.Logger,
		}
		result, err := loop.Run(ctx, ec.Job.ID, stepIndex, req)
		if err != nil {
			return "", models.Usage{}, nil, err
		}
		return result.OutputText, result.Usage, result.ImageURLs, nil

	case step.HasTool(llm.ToolShell):
		loop := &loops.ShellLoop{
			Provider:    h.deps.Provider,
			Runner:      h.deps.ShellRunner,
			Events:      h.deps.Events,
			WorkspaceID: shell.WorkspaceID(ec.Job.TenantID, ec.Job.ID, stepIndex),
			Logger:      h.deps.Logger,
		}
		result, err := loop.Run(ctx, ec.Job.ID, stepIndex, req)
		if err != nil {
			return "", models.Usage{}, nil, err
		}
		return result.OutputText, result.Usage, result.ImageURLs, nil

	default:
		resp, err := llm.CallWithImageRetry(ctx, h.deps.Provider, req, h.deps.Pipeline, h.deps.Logger)
		if err != nil {
			return "", models.Usage{}, nil, err
		}
		imageURLs := llm.HarvestImageURLs(ctx, resp, sink, h.deps.Logger)
		return resp.Text(), resp.Usage, imageURLs, nil
	}
}

// imageSink uploads harvested base64 images under the job's prefix.
func (h *AIGenerationHandler) imageSink(ec *ExecContext, stepIndex int) llm.ImageSink {
	counter := 0
	return func(ctx context.Context, data []byte, mime string) (string, error) {
		counter++
		name := fmt.Sprintf("step_%d_image_%d%s", stepIndex+1, counter, extFor(mime))
		artifact, err := h.deps.Artifacts.StoreImageBytes(ctx, ec.Job.TenantID, ec.Job.ID, name, data, mime)
		if err != nil {
			return "", err
		}
		return artifact.PublicURL, nil
	}
}

// screenshotSink uploads computer-use screenshots under the job's prefix.
func (h *AIGenerationHandler) screenshotSink(ec *ExecContext, stepIndex int) loops.ScreenshotSink {
	return func(ctx context.Context, iteration int, png []byte) (string, error) {
		name := fmt.Sprintf("step_%d_screenshot_%d.png", stepIndex+1, iteration)
		artifact, err := h.deps.Artifacts.StoreImageBytes(ctx, ec.Job.TenantID, ec.Job.ID, name, png, "image/png")
		if err != nil {
			return "", err
		}
		return artifact.PublicURL, nil
	}
}

// requestDetails captures the persisted view of the request.
func requestDetails(req *interfaces.ModelRequest, prevImages []string) map[string]interface{} {
	details := map[string]interface{}{
		"model": req.Model,
	}
	if req.ToolChoice != "" {
		details["tool_choice"] = req.ToolChoice
	}
	if len(req.Tools) > 0 {
		types := make([]string, 0, len(req.Tools))
		for _, t := range req.Tools {
			types = append(types, t.Type())
		}
		details["tools"] = types
	}
	if len(prevImages) > 0 {
		details["previous_image_urls"] = prevImages
	}
	if text, ok := req.Input.(string); ok {
		details["input"] = text
	}
	return details
}

func extFor(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
