package analyst

import (
	"context"
	"encoding/json"
	"strings"

	"marketlens/internal/interfaces"
	"marketlens/internal/logger"
	"marketlens/internal/store"
	"marketlens/internal/types"
)

// verdictSchema is the JSON shape every provider is asked to emit.
const verdictSchema = `{"outlook":"BULLISH|BEARISH|NEUTRAL","confidence":0.0,"summary":"...","risks":["..."]}`

const defaultSystem = "You are a disciplined market analyst. You receive triangulated, quality-scored market data. Output STRICT JSON, no prose."

// New selects the analyst implementation from config. An unset provider falls
// back to the noop analyst so the pipeline keeps working without credentials.
func New(cfg *store.Config) interfaces.Analyst {
	switch cfg.LLM.Provider {
	case "CLAUDE":
		return NewClaudeAnalyst(cfg)
	case "OPENAI":
		return NewOpenAIAnalyst(cfg)
	default:
		return NewNoopAnalyst()
	}
}

// parseVerdictFromText locates a JSON object in text and unmarshals it into a
// Verdict. Providers wrap their JSON in prose or code fences often enough
// that a plain unmarshal is not good enough.
func parseVerdictFromText(ctx context.Context, text string) (types.Verdict, error) {
	t := strings.TrimSpace(text)

	if strings.HasPrefix(t, "{") {
		var v types.Verdict
		if err := json.Unmarshal([]byte(t), &v); err == nil {
			normalizeVerdict(&v)
			return v, nil
		}
	}

	// Fall back to the first {...} substring.
	start := strings.Index(t, "{")
	end := strings.LastIndex(t, "}")
	if start >= 0 && end > start {
		var v types.Verdict
		if err := json.Unmarshal([]byte(t[start:end+1]), &v); err == nil {
			normalizeVerdict(&v)
			return v, nil
		}
	}

	logger.Warn(ctx, "Unable to parse verdict from model output, defaulting to NEUTRAL", "text_length", len(t))
	return types.Verdict{Outlook: "NEUTRAL", Summary: "unable_to_parse_model_output", Confidence: 0.0}, nil
}

func normalizeVerdict(v *types.Verdict) {
	v.Outlook = strings.ToUpper(strings.TrimSpace(v.Outlook))
	if v.Outlook != "BULLISH" && v.Outlook != "BEARISH" && v.Outlook != "NEUTRAL" {
		v.Outlook = "NEUTRAL"
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		v.Confidence = 0.0
	}
}
