package subprocess

import (
	"context"
	"errors"

	"github.com/vizloop/enginecore/internal/domain/entity"
	"github.com/vizloop/enginecore/internal/domain/service"
)

// wireExecRequest/wireExecResponse mirror the JSON shapes spec.md §4.6
// fixes for the executor subprocess, kept separate from the domain's
// ExecRequest/ExecResult so wire-format churn never leaks into the loop.
type wireExecRequest struct {
	StoryText    string   `json:"story_text"`
	AllowedTools []string `json:"allowed_tools"`
	Debug        bool     `json:"debug"`
	ConfigPath   string   `json:"config_path,omitempty"`
}

type wireExecResponse struct {
	Executed []struct {
		Name   string   `json:"name"`
		Args   []string `json:"args"`
		Coords *struct {
			X int `json:"x"`
			Y int `json:"y"`
		} `json:"coords,omitempty"`
	} `json:"executed"`
	Malformed []struct {
		Text   string `json:"text"`
		Reason string `json:"reason"`
	} `json:"malformed"`
	RawImageB64 string `json:"raw_image_b64"`
	Error       string `json:"error,omitempty"`
}

// ExecutorAdapter runs the executor subprocess and translates its wire
// contract into service.ExecResult.
type ExecutorAdapter struct {
	runner *Runner
}

// NewExecutorAdapter wraps runner as a service.Executor.
func NewExecutorAdapter(runner *Runner) *ExecutorAdapter {
	return &ExecutorAdapter{runner: runner}
}

var _ service.Executor = (*ExecutorAdapter)(nil)

// Execute implements service.Executor. config_path is intentionally never
// populated with a crop rectangle: coordinates returned in actions are
// always relative to the full captured frame.
func (a *ExecutorAdapter) Execute(ctx context.Context, req service.ExecRequest) (service.ExecResult, error) {
	wireReq := wireExecRequest{
		StoryText:    req.StoryText,
		AllowedTools: req.AllowedTools,
		Debug:        req.Debug,
		ConfigPath:   req.ConfigPath,
	}
	var wireResp wireExecResponse
	if err := a.runner.Call(ctx, wireReq, &wireResp); err != nil {
		if !isTransient(err) {
			return service.ExecResult{}, err
		}
		wireResp = wireExecResponse{}
		if err := a.runner.Call(ctx, wireReq, &wireResp); err != nil {
			return service.ExecResult{}, err
		}
	}
	if wireResp.Error != "" {
		return service.ExecResult{}, &CallError{Kind: "crash", Err: errString(wireResp.Error)}
	}

	result := service.ExecResult{RawImageB64: wireResp.RawImageB64}
	for _, e := range wireResp.Executed {
		action := entity.ExecutedAction{Name: e.Name, Args: e.Args}
		if e.Coords != nil {
			action.Coords = &entity.Point{X: e.Coords.X, Y: e.Coords.Y}
		}
		result.Executed = append(result.Executed, action)
	}
	for _, m := range wireResp.Malformed {
		result.Malformed = append(result.Malformed, service.MalformedAction{Text: m.Text, Reason: m.Reason})
	}
	return result, nil
}

type errString string

func (e errString) Error() string { return string(e) }

// isTransient reports whether err is the kind of child-process failure
// worth one bounded retry — a crashed or failed-to-start process, as
// opposed to a timeout (the caller's deadline already expired) or a
// malformed response (retrying won't fix a parse error).
func isTransient(err error) bool {
	var callErr *CallError
	return errors.As(err, &callErr) && callErr.Kind == "crash"
}
