// -----------------------------------------------------------------------
// Provider Factory
// Builds the primary provider with optional Claude text fallback
// -----------------------------------------------------------------------

package llm

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/magnet/internal/common"
	"github.com/ternarybob/magnet/internal/interfaces"
)

// FallbackProvider routes calls to the primary provider and, for plain
// text calls that fail terminally, retries once on the fallback.
type FallbackProvider struct {
	primary  interfaces.ModelProvider
	fallback interfaces.ModelProvider
	logger   arbor.ILogger
}

// NewProvider builds the provider stack from configuration. The Claude
// fallback is attached only when its API key is configured.
func NewProvider(config *common.Config, logger arbor.ILogger) (interfaces.ModelProvider, error) {
	primary, err := NewHTTPProvider(&config.Provider, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create model provider: %w", err)
	}

	if config.Claude.APIKey == "" {
		return primary, nil
	}

	fallback, err := NewClaudeProvider(&config.Claude, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("Claude fallback unavailable, continuing with primary only")
		return primary, nil
	}

	logger.Info().Str("fallback_model", config.Claude.Model).Msg("Claude text fallback enabled")
	return &FallbackProvider{primary: primary, fallback: fallback, logger: logger}, nil
}

func (f *FallbackProvider) CreateResponse(ctx context.Context, req *interfaces.ModelRequest) (*interfaces.ModelResponse, error) {
	resp, err := f.primary.CreateResponse(ctx, req)
	if err == nil {
		return resp, nil
	}

	// Tool-bearing calls cannot move providers mid-loop.
	if len(req.Tools) > 0 || req.PreviousResponseID != "" {
		return nil, err
	}

	f.logger.Warn().Err(err).Msg("Primary provider failed, retrying on fallback")
	fallbackResp, fallbackErr := f.fallback.CreateResponse(ctx, req)
	if fallbackErr != nil {
		return nil, err
	}
	return fallbackResp, nil
}

func (f *FallbackProvider) Close() error {
	err := f.primary.Close()
	if cerr := f.fallback.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
