package model

import (
	"math"
	"testing"
)

func TestRopeScalingLinear(t *testing.T) {
	cfg := &hfConfig{
		MaxPosition: 4096,
		RopeScaling: &ropeScaling{
			Type:   "linear",
			Factor: 2,
		},
	}
	rs := ropeScalingForConfig(cfg)
	if rs == nil {
		t.Fatalf("expected rope scaling")
	}
	if rs.Type != "linear" {
		t.Fatalf("unexpected rope scaling type: %q", rs.Type)
	}
	inv := []float64{1, 0.5, 0.25}
	attn := rs.apply(inv, 10_000, cfg.MaxPosition)
	if attn != 1 {
		t.Fatalf("attention factor = %g, want 1", attn)
	}
	want := []float64{0.5, 0.25, 0.125}
	for i := range inv {
		if math.Abs(inv[i]-want[i]) > 1e-9 {
			t.Fatalf("inv[%d]=%g want %g", i, inv[i], want[i])
		}
	}
}

func TestRopeScalingNil(t *testing.T) {
	var rs *RopeScaling
	inv := []float64{1, 0.5}
	if attn := rs.apply(inv, 10_000, 4096); attn != 1 {
		t.Fatalf("attention factor = %g, want 1", attn)
	}
	if inv[0] != 1 || inv[1] != 0.5 {
		t.Fatalf("frequencies changed with nil scaling: %v", inv)
	}
}

func TestRopeScalingLlama3Band(t *testing.T) {
	rs := &RopeScaling{
		Type:       "llama3",
		Factor:     4,
		OrigMaxCtx: 8192,
		LowFactor:  1,
		HighFactor: 4,
	}
	// Wavelengths relative to origCtx: 9000 is beyond the low-frequency
	// boundary (8192), 1024 is below the high-frequency boundary (2048),
	// 4096 sits in the blend window.
	low := 2 * math.Pi / 9000
	high := 2 * math.Pi / 1024
	mid := 2 * math.Pi / 4096
	inv := []float64{low, high, mid}
	rs.apply(inv, 500_000, 131072)

	if math.Abs(inv[0]-low/4) > 1e-12 {
		t.Fatalf("low-frequency band not interpolated: got %g, want %g", inv[0], low/4)
	}
	if math.Abs(inv[1]-high) > 1e-12 {
		t.Fatalf("high-frequency band changed: got %g, want %g", inv[1], high)
	}
	if inv[2] <= mid/4 || inv[2] >= mid {
		t.Fatalf("blend window frequency %g outside (%g, %g)", inv[2], mid/4, mid)
	}
}

func TestRopeScalingYarn(t *testing.T) {
	truncate := false
	raw := &ropeScaling{
		Type:                          "yarn",
		Factor:                        4,
		OriginalMaxPositionEmbeddings: 8192,
		Truncate:                      &truncate,
	}
	rs := resolveRopeScaling(32768, raw)
	if rs == nil {
		t.Fatal("expected yarn scaling")
	}
	if rs.BetaFast != 32 || rs.BetaSlow != 1 {
		t.Fatalf("beta defaults = %g/%g, want 32/1", rs.BetaFast, rs.BetaSlow)
	}
	wantAttn := 0.1*math.Log(4) + 1
	if math.Abs(rs.AttentionFactor-wantAttn) > 1e-9 {
		t.Fatalf("attention factor = %g, want %g", rs.AttentionFactor, wantAttn)
	}

	inv := ropeInvFreqTable(32, 10_000)
	orig := make([]float64, len(inv))
	copy(orig, inv)

	attn := rs.apply(inv, 10_000, 32768)
	if math.Abs(attn-wantAttn) > 1e-9 {
		t.Fatalf("applied attention factor = %g, want %g", attn, wantAttn)
	}
	for i := range inv {
		lo := orig[i] / 4 * (1 - 1e-9)
		hi := orig[i] * (1 + 1e-9)
		if inv[i] < lo || inv[i] > hi {
			t.Fatalf("inv[%d]=%g outside [%g, %g]", i, inv[i], orig[i]/4, orig[i])
		}
	}
	// The fastest-rotating dim extrapolates, the slowest interpolates.
	if math.Abs(inv[0]-orig[0]) > orig[0]*1e-6 {
		t.Fatalf("dim 0 should extrapolate: got %g, want %g", inv[0], orig[0])
	}
	last := len(inv) - 1
	if math.Abs(inv[last]-orig[last]/4) > orig[last]*1e-6 {
		t.Fatalf("dim %d should interpolate: got %g, want %g", last, inv[last], orig[last]/4)
	}
}

func TestResolveRopeScalingDefaults(t *testing.T) {
	if rs := resolveRopeScaling(4096, nil); rs != nil {
		t.Fatalf("nil raw resolved to %+v", rs)
	}
	if rs := resolveRopeScaling(4096, &ropeScaling{Type: "default"}); rs != nil {
		t.Fatalf("default without factor resolved to %+v", rs)
	}
	if rs := resolveRopeScaling(4096, &ropeScaling{Type: "longrope", Factor: 4}); rs != nil {
		t.Fatalf("unsupported type resolved to %+v", rs)
	}

	rs := resolveRopeScaling(32768, &ropeScaling{
		Type:                          "llama3",
		OriginalMaxPositionEmbeddings: 8192,
	})
	if rs == nil {
		t.Fatal("expected llama3 scaling")
	}
	if rs.Factor != 4 {
		t.Fatalf("inferred factor = %g, want 4 (ctx ratio)", rs.Factor)
	}
	if rs.LowFactor != 1 || rs.HighFactor != 1 {
		t.Fatalf("factor defaults = %g/%g, want 1/1", rs.LowFactor, rs.HighFactor)
	}
}

func TestRopeInvFreqTable(t *testing.T) {
	inv := ropeInvFreqTable(4, 10_000)
	if len(inv) != 4 {
		t.Fatalf("length = %d, want 4", len(inv))
	}
	if inv[0] != 1 {
		t.Fatalf("inv[0] = %g, want 1", inv[0])
	}
	for i := 1; i < len(inv); i++ {
		if inv[i] >= inv[i-1] {
			t.Fatalf("frequencies not decreasing at %d: %v", i, inv)
		}
		want := math.Pow(10_000, -float64(2*i)/8)
		if math.Abs(inv[i]-want) > 1e-12 {
			t.Fatalf("inv[%d]=%g want %g", i, inv[i], want)
		}
	}
}
