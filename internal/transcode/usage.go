package transcode

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/compresr/stream-gateway/internal/config"
)

// UsageEstimator fills usage counters the upstream did not report.
type UsageEstimator interface {
	Estimate(prompt, completion string) Usage
}

// PlaceholderUsage returns the fixed counters reported when nothing better is known.
func PlaceholderUsage() Usage {
	return Usage{
		PromptTokens:     config.PlaceholderPromptTokens,
		CompletionTokens: config.PlaceholderCompletionTokens,
		TotalTokens:      config.PlaceholderTotalTokens,
	}
}

// PlaceholderEstimator always reports PlaceholderUsage.
type PlaceholderEstimator struct{}

// Estimate implements UsageEstimator.
func (PlaceholderEstimator) Estimate(string, string) Usage { return PlaceholderUsage() }

// TokenEstimator counts tokens with a tiktoken encoding.
type TokenEstimator struct {
	enc *tiktoken.Tiktoken
}

// NewTokenEstimator loads the named encoding (e.g. cl100k_base).
func NewTokenEstimator(encoding string) (*TokenEstimator, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %q: %w", encoding, err)
	}
	return &TokenEstimator{enc: enc}, nil
}

// Estimate implements UsageEstimator.
func (e *TokenEstimator) Estimate(prompt, completion string) Usage {
	p := len(e.enc.Encode(prompt, nil, nil))
	c := len(e.enc.Encode(completion, nil, nil))
	return Usage{PromptTokens: p, CompletionTokens: c, TotalTokens: p + c}
}

// NewEstimator builds the estimator selected in config.
func NewEstimator(cfg config.UsageConfig) (UsageEstimator, error) {
	switch cfg.Estimator {
	case config.EstimatorTiktoken:
		encoding := cfg.Encoding
		if encoding == "" {
			encoding = config.DefaultTokenEncoding
		}
		return NewTokenEstimator(encoding)
	default:
		return PlaceholderEstimator{}, nil
	}
}
