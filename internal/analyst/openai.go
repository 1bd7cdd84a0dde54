package analyst

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"marketlens/internal/store"
	"marketlens/internal/trace"
	"marketlens/internal/types"
)

type OpenAIAnalyst struct {
	cfg *store.Config
}

func NewOpenAIAnalyst(cfg *store.Config) *OpenAIAnalyst {
	return &OpenAIAnalyst{cfg: cfg}
}

func (a *OpenAIAnalyst) Analyze(ctx context.Context, actx types.AnalysisContext) (types.Verdict, error) {
	ctx, span := trace.StartSpan(ctx, "openai-api-call")
	defer span.End()

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return types.Verdict{}, errors.New("OPENAI_API_KEY missing")
	}

	stateB, _ := json.Marshal(actx)
	system := a.cfg.LLM.System
	if system == "" {
		system = defaultSystem
	}
	prompt := fmt.Sprintf("You will receive state as JSON. Respond ONLY with compact JSON matching the schema.\nSchema:%s\nState:%s", verdictSchema, string(stateB))

	body := map[string]any{
		"model":       a.cfg.LLM.Model,
		"messages":    []map[string]string{{"role": "system", "content": system}, {"role": "user", "content": prompt}},
		"temperature": a.cfg.LLM.Temperature,
		"max_tokens":  a.cfg.LLM.MaxTokens,
	}
	bb, _ := json.Marshal(body)

	req, _ := http.NewRequestWithContext(ctx, "POST", "https://api.openai.com/v1/chat/completions", bytes.NewReader(bb))
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return types.Verdict{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return types.Verdict{}, fmt.Errorf("openai http %d", resp.StatusCode)
	}

	var r struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return types.Verdict{}, err
	}
	if len(r.Choices) == 0 {
		return types.Verdict{}, errors.New("no choices")
	}

	return parseVerdictFromText(ctx, r.Choices[0].Message.Content)
}
