package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/scottidler/loopr/internal/engineerr"
)

// CLIGateway is the reference LlmGateway implementation: it shells out to a
// model CLI binary per request (CLI-arg construction, CombinedOutput
// capture, JSON-wrapper response parsing) generalized with a typed error
// taxonomy and bounded retry instead of a single rate-limit retry.
type CLIGateway struct {
	// BinaryPath is the model CLI executable, defaulting to "claude".
	BinaryPath string

	// SystemPromptFlag/PromptFlag mirror invoker.go's fixed --system-prompt
	// and -p flags; kept as fields rather than constants so a different CLI
	// binary's flag names can be substituted without forking the gateway.
	SystemPromptFlag string
	PromptFlag       string

	Timeout time.Duration
	Retry   RetryPolicy
}

// NewCLIGateway builds a CLIGateway with sensible CLI-flag defaults.
func NewCLIGateway(binaryPath string, timeout time.Duration) *CLIGateway {
	if binaryPath == "" {
		binaryPath = "claude"
	}
	return &CLIGateway{
		BinaryPath:       binaryPath,
		SystemPromptFlag: "--system-prompt",
		PromptFlag:       "-p",
		Timeout:          timeout,
		Retry:            DefaultRetryPolicy(),
	}
}

// Complete submits one request, retrying transient errors per g.Retry
// (spec.md §4.3 "initial 1s, doubling, capped at 3 attempts"; rate-limit
// retry-after is honored exactly).
func (g *CLIGateway) Complete(ctx context.Context, req Request) (Response, error) {
	var lastErr error
	delay := g.Retry.InitialDelay

	for attempt := 1; attempt <= g.Retry.MaxAttempts; attempt++ {
		resp, err := g.invoke(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return Response{}, err
		}

		wait := delay
		var rl *engineerr.RateLimitedError
		if errors.As(err, &rl) {
			wait = time.Duration(rl.RetryAfterSeconds) * time.Second
		}

		if attempt == g.Retry.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-time.After(wait):
		}
		delay *= 2
	}
	return Response{}, lastErr
}

// Stream runs Complete and replays its result as events (a TextDelta when
// the text is non-empty, a ToolUseStart/ToolUseEnd pair per tool call)
// followed by a terminal Done event. A true token-incremental stream requires a
// streaming-capable CLI invocation (out of scope per spec.md's Non-goals on
// LLM HTTP client internals); this still satisfies the contract that sink
// closure never aborts the upstream call, since Complete runs to completion
// regardless of whether sink is read.
func (g *CLIGateway) Stream(ctx context.Context, req Request, sink Sink) (Response, error) {
	resp, err := g.Complete(ctx, req)
	if err != nil {
		return Response{}, err
	}
	if sink != nil {
		if resp.Text != "" {
			sink(StreamEvent{Type: EventTextDelta, TextDelta: resp.Text})
		}
		for _, tc := range resp.ToolCalls {
			call := tc
			sink(StreamEvent{Type: EventToolUseStart, ToolCall: &call})
			sink(StreamEvent{Type: EventToolUseEnd, ToolCall: &call})
		}
		sink(StreamEvent{Type: EventDone})
	}
	return resp, nil
}

func isRetryable(err error) bool {
	if engineerr.IsInvalidResponse(err) || engineerr.IsContextOverflow(err) {
		return false
	}
	return engineerr.IsRateLimited(err) || engineerr.IsApiError(err) ||
		engineerr.IsNetwork(err) || engineerr.IsTimeout(err)
}

func (g *CLIGateway) invoke(ctx context.Context, req Request) (Response, error) {
	if req.UserMessage == "" {
		return Response{}, &engineerr.InvalidResponseError{Detail: "request has no user message"}
	}

	args := []string{}
	if req.SystemPrompt != "" {
		args = append(args, g.SystemPromptFlag, req.SystemPrompt)
	}
	args = append(args, g.PromptFlag, req.UserMessage)
	args = append(args, "--output-format", "json")
	if req.MaxTokens > 0 {
		args = append(args, "--max-tokens", strconv.Itoa(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		toolsJSON, err := json.Marshal(req.Tools)
		if err != nil {
			return Response{}, fmt.Errorf("marshal tool schemas: %w", err)
		}
		args = append(args, "--tools", string(toolsJSON))
	}
	if len(req.ToolResults) > 0 {
		resultsJSON, err := json.Marshal(req.ToolResults)
		if err != nil {
			return Response{}, fmt.Errorf("marshal tool results: %w", err)
		}
		args = append(args, "--tool-results", string(resultsJSON))
	}

	ctxToUse := ctx
	var cancel context.CancelFunc
	if g.Timeout > 0 {
		ctxToUse, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctxToUse, g.BinaryPath, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := out.String()

	if ctxToUse.Err() == context.DeadlineExceeded {
		return Response{}, &engineerr.TimeoutError{Operation: "llm completion"}
	}
	if err != nil {
		if rl := parseRateLimit(output); rl != nil {
			return Response{}, rl
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Response{}, &engineerr.ApiError{Status: exitErr.ExitCode(), Message: strings.TrimSpace(output)}
		}
		return Response{}, &engineerr.NetworkError{Cause: err}
	}

	return parseResponse(output)
}

var (
	rateLimitIndicator  = regexp.MustCompile(`(?i)(rate.?limit|usage.?limit|429|too.?many.?requests)`)
	retrySecondsPattern = regexp.MustCompile(`retry (?:in|after)\s+(\d+)\s*(?:seconds?|s)`)
)

// parseRateLimit is a regex scan of CLI text output for rate-limit
// indicators and an explicit retry-after duration, generalized from a
// usage-window model into a plain retry_after seconds value.
func parseRateLimit(output string) *engineerr.RateLimitedError {
	if output == "" || !rateLimitIndicator.MatchString(output) {
		return nil
	}
	retryAfter := 30
	if m := retrySecondsPattern.FindStringSubmatch(output); len(m) > 1 {
		if secs, err := strconv.Atoi(m[1]); err == nil {
			retryAfter = secs
		}
	}
	return &engineerr.RateLimitedError{RetryAfterSeconds: retryAfter}
}

// parseResponse extracts a Response from the CLI's JSON-wrapper stdout,
// checking fields in precedence order (structured_output > result > content,
// with brace-extraction fallback for mixed output), then maps the extracted
// fields onto Response/ToolCalls/StopReason/Usage.
func parseResponse(raw string) (Response, error) {
	var envelope struct {
		SessionID        string           `json:"session_id"`
		StructuredOutput map[string]any   `json:"structured_output"`
		Result           string           `json:"result"`
		Content          string           `json:"content"`
		StopReason       string           `json:"stop_reason"`
		ToolCalls        []map[string]any `json:"tool_calls"`
		Usage            struct {
			InputTokens       int `json:"input_tokens"`
			OutputTokens      int `json:"output_tokens"`
			CacheReadTokens   int `json:"cache_read_tokens"`
			CacheCreateTokens int `json:"cache_creation_tokens"`
		} `json:"usage"`
	}

	body := raw
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		start := strings.Index(raw, "{")
		end := strings.LastIndex(raw, "}")
		if start < 0 || end <= start {
			return Response{}, &engineerr.InvalidResponseError{Detail: "no JSON object found in output"}
		}
		body = raw[start : end+1]
		if err := json.Unmarshal([]byte(body), &envelope); err != nil {
			return Response{}, &engineerr.InvalidResponseError{Detail: err.Error()}
		}
	}

	text := envelope.Content
	if envelope.Result != "" {
		text = envelope.Result
	}
	if len(envelope.StructuredOutput) > 0 {
		if b, err := json.Marshal(envelope.StructuredOutput); err == nil {
			text = string(b)
		}
	}

	calls := make([]ToolCall, 0, len(envelope.ToolCalls))
	for _, tc := range envelope.ToolCalls {
		id, _ := tc["id"].(string)
		name, _ := tc["name"].(string)
		input, _ := tc["input"].(map[string]any)
		calls = append(calls, ToolCall{ID: id, Name: name, Input: input})
	}

	stop := StopReason(envelope.StopReason)
	switch stop {
	case StopEndTurn, StopToolUse, StopMaxTokens, StopStopSequence:
	default:
		if len(calls) > 0 {
			stop = StopToolUse
		} else {
			stop = StopEndTurn
		}
	}

	return Response{
		Text:       text,
		ToolCalls:  calls,
		StopReason: stop,
		SessionID:  envelope.SessionID,
		Usage: Usage{
			InputTokens:       envelope.Usage.InputTokens,
			OutputTokens:      envelope.Usage.OutputTokens,
			CacheReadTokens:   envelope.Usage.CacheReadTokens,
			CacheCreateTokens: envelope.Usage.CacheCreateTokens,
		},
	}, nil
}
