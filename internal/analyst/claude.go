package analyst

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"marketlens/internal/logger"
	"marketlens/internal/store"
	"marketlens/internal/trace"
	"marketlens/internal/types"
)

// ClaudeAnalyst calls the Anthropic Messages API and returns a types.Verdict.
type ClaudeAnalyst struct {
	cfg      *store.Config
	endpoint string
}

func NewClaudeAnalyst(cfg *store.Config) *ClaudeAnalyst {
	// default messages endpoint (public Anthropic)
	endpoint := "https://api.anthropic.com/v1/messages"
	// If you use a proxy/bedrock/vertex, set endpoint via CLAUDE_API_ENDPOINT env var
	if ep := os.Getenv("CLAUDE_API_ENDPOINT"); ep != "" {
		endpoint = ep
	}
	return &ClaudeAnalyst{cfg: cfg, endpoint: endpoint}
}

func (a *ClaudeAnalyst) Analyze(ctx context.Context, actx types.AnalysisContext) (types.Verdict, error) {
	logger.Debug(ctx, "Claude analyst called", "symbol", actx.Symbol, "model", a.cfg.LLM.Model, "endpoint", a.endpoint)

	ctx, span := trace.StartSpan(ctx, "claude-analyze")
	defer span.End()

	apiKey := os.Getenv("CLAUDE_API_KEY")
	if apiKey == "" {
		err := errors.New("CLAUDE_API_KEY missing")
		logger.ErrorWithErr(ctx, "Claude API key not configured", err)
		return types.Verdict{}, err
	}

	stateB, _ := json.Marshal(actx)

	system := a.cfg.LLM.System
	if system == "" {
		system = defaultSystem
	}
	user := fmt.Sprintf("Schema:%s\nState:%s\n\nRespond ONLY with compact JSON matching the schema.", verdictSchema, string(stateB))

	reqBody := map[string]any{
		"model":  a.cfg.LLM.Model,
		"system": system,
		"messages": []map[string]string{
			{"role": "user", "content": user},
		},
		"max_tokens":  a.cfg.LLM.MaxTokens,
		"temperature": a.cfg.LLM.Temperature,
	}

	bb, _ := json.Marshal(reqBody)
	logger.Debug(ctx, "Sending request to Claude", "model", a.cfg.LLM.Model, "temperature", a.cfg.LLM.Temperature)
	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, "POST", a.endpoint, bytes.NewReader(bb))
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		logger.ErrorWithErr(ctx, "Claude API request failed", err, "symbol", actx.Symbol, "latency_ms", latency.Milliseconds())
		return types.Verdict{}, err
	}
	defer resp.Body.Close()

	logger.Debug(ctx, "Received response from Claude",
		"symbol", actx.Symbol,
		"status_code", resp.StatusCode,
		"latency_ms", latency.Milliseconds(),
	)

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("claude http %d: %s", resp.StatusCode, string(body))
		logger.ErrorWithErr(ctx, "Claude API returned error status", err, "symbol", actx.Symbol, "status_code", resp.StatusCode)
		return types.Verdict{}, err
	}

	respBytes, _ := io.ReadAll(resp.Body)

	// Messages API shape: content is an array of typed blocks.
	var msg struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(respBytes, &msg); err == nil {
		for _, block := range msg.Content {
			if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
				verdict, perr := parseVerdictFromText(ctx, block.Text)
				if perr != nil {
					return verdict, perr
				}
				logger.Info(ctx, "Claude verdict received",
					"symbol", actx.Symbol,
					"outlook", verdict.Outlook,
					"confidence", verdict.Confidence,
					"latency_ms", latency.Milliseconds(),
				)
				return verdict, nil
			}
		}
	}

	// final fallback: raw text
	logger.Warn(ctx, "Using fallback raw text parsing for Claude response", "symbol", actx.Symbol)
	verdict, perr := parseVerdictFromText(ctx, string(respBytes))
	if perr != nil {
		logger.ErrorWithErr(ctx, "Failed to parse Claude response", perr, "symbol", actx.Symbol)
		return verdict, perr
	}
	return verdict, nil
}
