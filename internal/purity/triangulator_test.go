package purity

import (
	"math"
	"testing"
	"time"

	"marketlens/internal/types"
)

func reading(name string, price float64) types.SourceReading {
	return types.SourceReading{
		SourceName: name,
		Metrics:    map[string]float64{"price_usd": price},
		FetchedAt:  time.Now(),
		Status:     types.ReadingSuccess,
	}
}

func failedReading(name string) types.SourceReading {
	return types.SourceReading{
		SourceName: name,
		Status:     types.ReadingFailed,
		Err:        "connection refused",
	}
}

func TestTriangulateMedianAndDivergence(t *testing.T) {
	tri := NewTriangulator(0.5)

	result := tri.Triangulate([]types.SourceReading{
		reading("binance", 95000),
		reading("coingecko", 95050),
		reading("coinbase", 94950),
	}, "price_usd")

	if result.MedianValue == nil {
		t.Fatal("expected a median value")
	}
	if *result.MedianValue != 95000 {
		t.Errorf("expected median 95000, got %f", *result.MedianValue)
	}

	// Widest pair is 95050 vs 94950: 100/95000 ~= 0.105%.
	want := 100.0 / 95000.0 * 100
	if math.Abs(result.Divergence.MaxDivergencePct-want) > 1e-9 {
		t.Errorf("expected max divergence %.6f, got %.6f", want, result.Divergence.MaxDivergencePct)
	}
	if result.Divergence.HasDivergence {
		t.Error("expected no divergence below 0.5% tolerance")
	}
	if len(result.Divergence.DivergentSources) != 0 {
		t.Errorf("expected no divergent sources, got %v", result.Divergence.DivergentSources)
	}
}

func TestTriangulateFlagsDivergentSource(t *testing.T) {
	tri := NewTriangulator(0.5)

	result := tri.Triangulate([]types.SourceReading{
		reading("binance", 95000),
		reading("coingecko", 95020),
		reading("coinbase", 97000), // ~2.1% off median
	}, "price_usd")

	if !result.Divergence.HasDivergence {
		t.Fatal("expected divergence above tolerance")
	}
	if len(result.Divergence.DivergentSources) != 1 || result.Divergence.DivergentSources[0] != "coinbase" {
		t.Errorf("expected coinbase flagged, got %v", result.Divergence.DivergentSources)
	}
}

func TestTriangulateSkipsFailedSources(t *testing.T) {
	tri := NewTriangulator(0.5)

	result := tri.Triangulate([]types.SourceReading{
		reading("binance", 95000),
		failedReading("coingecko"),
		failedReading("coinbase"),
	}, "price_usd")

	if result.MedianValue == nil || *result.MedianValue != 95000 {
		t.Fatal("expected median from the single successful reading")
	}
	if result.PerSourceValues["coingecko"] != nil {
		t.Error("failed source should carry a nil per-source value")
	}
	if result.Divergence.HasDivergence {
		t.Error("single source cannot diverge")
	}
}

func TestTriangulateAllFailed(t *testing.T) {
	tri := NewTriangulator(0.5)

	result := tri.Triangulate([]types.SourceReading{
		failedReading("binance"),
		failedReading("coingecko"),
	}, "price_usd")

	if result.MedianValue != nil {
		t.Error("expected nil median when zero sources succeed")
	}
	if len(result.PerSourceValues) != 2 {
		t.Errorf("expected per-source entries for every attempted source, got %d", len(result.PerSourceValues))
	}
}

func TestTriangulateEvenCount(t *testing.T) {
	tri := NewTriangulator(0.5)

	result := tri.Triangulate([]types.SourceReading{
		reading("a", 100),
		reading("b", 104),
	}, "price_usd")

	if result.MedianValue == nil || *result.MedianValue != 102 {
		t.Fatalf("expected median 102 for even count, got %v", result.MedianValue)
	}
	// |100-104|/102 ~= 3.92%, above tolerance.
	if !result.Divergence.HasDivergence {
		t.Error("expected divergence for a ~3.9% spread")
	}
}
