package subprocess

import (
	"context"

	"github.com/vizloop/enginecore/internal/domain/entity"
	"github.com/vizloop/enginecore/internal/domain/service"
)

type wireVLMRequest struct {
	StoryText    string `json:"story_text"`
	ImageB64     string `json:"image_b64"`
	Model        string `json:"model,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

type wireVLMResponse struct {
	VLMText string `json:"vlm_text"`
	Usage   struct {
		PromptTokens     int    `json:"prompt_tokens"`
		CompletionTokens int    `json:"completion_tokens"`
		Model            string `json:"model"`
	} `json:"usage"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// VLMAdapter runs the VLM subprocess. It is the only component in the
// process that ever hands an image to the model, and it only ever hands
// over the annotated frame the browser produced — callers are responsible
// for never passing a raw screenshot as ImageB64.
type VLMAdapter struct {
	runner *Runner
}

// NewVLMAdapter wraps runner as a service.VLM.
func NewVLMAdapter(runner *Runner) *VLMAdapter {
	return &VLMAdapter{runner: runner}
}

var _ service.VLM = (*VLMAdapter)(nil)

// Complete implements service.VLM.
func (a *VLMAdapter) Complete(ctx context.Context, req service.VLMRequest) (service.VLMResult, error) {
	wireReq := wireVLMRequest{
		StoryText:    req.StoryText,
		ImageB64:     req.ImageB64,
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
	}
	var wireResp wireVLMResponse
	if err := a.runner.Call(ctx, wireReq, &wireResp); err != nil {
		return service.VLMResult{}, err
	}
	if wireResp.Error != "" {
		return service.VLMResult{}, &CallError{Kind: "crash", Err: errString(wireResp.Error)}
	}

	return service.VLMResult{
		VLMText: wireResp.VLMText,
		Usage: entity.Usage{
			PromptTokens:     wireResp.Usage.PromptTokens,
			CompletionTokens: wireResp.Usage.CompletionTokens,
			Model:            wireResp.Usage.Model,
		},
		LatencyMS: wireResp.LatencyMS,
	}, nil
}
