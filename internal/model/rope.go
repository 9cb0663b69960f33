package model

import (
	"math"
	"strings"
)

// RopeScaling is the resolved context-extension policy for rotary
// position embeddings. A nil *RopeScaling means the base frequencies
// are used unchanged.
type RopeScaling struct {
	Type            string
	Factor          float64
	OrigMaxCtx      int
	LowFactor       float64
	HighFactor      float64
	AttentionFactor float64
	BetaFast        float64
	BetaSlow        float64
	MScale          float64
	MScaleAllDim    float64
	Truncate        bool
	HasTruncate     bool
}

func (rp *ropeParams) scaling() *ropeScaling {
	if rp == nil {
		return nil
	}
	return &ropeScaling{
		Type:                          rp.Type,
		RopeType:                      rp.RopeType,
		Factor:                        rp.Factor,
		OriginalMaxPositionEmbeddings: rp.OriginalMaxPositionEmbeddings,
		LowFreqFactor:                 rp.LowFreqFactor,
		HighFreqFactor:                rp.HighFreqFactor,
		AttentionFactor:               rp.AttentionFactor,
		BetaFast:                      rp.BetaFast,
		BetaSlow:                      rp.BetaSlow,
		MScale:                        rp.MScale,
		MScaleAllDim:                  rp.MScaleAllDim,
		Truncate:                      rp.Truncate,
	}
}

func ropeScalingForConfig(cfg *hfConfig) *RopeScaling {
	if cfg == nil {
		return nil
	}
	if out := resolveRopeScaling(cfg.MaxPosition, cfg.RopeScaling); out != nil {
		return out
	}
	return resolveRopeScaling(cfg.MaxPosition, cfg.RopeParameters.scaling())
}

// resolveRopeScaling normalizes a raw rope_scaling block: picks the
// type name from whichever field carries it, fills defaults, and
// infers the factor from the context ratio when absent. Unknown types
// resolve to nil so the caller falls back to unscaled rope.
func resolveRopeScaling(maxPosition int, raw *ropeScaling) *RopeScaling {
	if raw == nil {
		return nil
	}

	ropeType := strings.TrimSpace(raw.RopeType)
	if ropeType == "" {
		ropeType = strings.TrimSpace(raw.Type)
	}
	ropeType = strings.ToLower(ropeType)

	if ropeType == "" || ropeType == "default" {
		if raw.Factor > 0 {
			ropeType = "linear"
		} else {
			return nil
		}
	}

	switch ropeType {
	case "linear", "llama3", "yarn":
	default:
		return nil
	}

	out := &RopeScaling{
		Type:            ropeType,
		Factor:          raw.Factor,
		OrigMaxCtx:      raw.OriginalMaxPositionEmbeddings,
		LowFactor:       raw.LowFreqFactor,
		HighFactor:      raw.HighFreqFactor,
		AttentionFactor: raw.AttentionFactor,
		BetaFast:        raw.BetaFast,
		BetaSlow:        raw.BetaSlow,
		MScale:          raw.MScale,
		MScaleAllDim:    raw.MScaleAllDim,
	}
	if raw.Truncate != nil {
		out.Truncate = *raw.Truncate
		out.HasTruncate = true
	}

	if out.OrigMaxCtx <= 0 {
		out.OrigMaxCtx = maxPosition
	}
	if out.LowFactor <= 0 {
		out.LowFactor = 1
	}
	if out.HighFactor <= 0 {
		out.HighFactor = out.LowFactor
	}
	if out.BetaFast <= 0 {
		out.BetaFast = 32
	}
	if out.BetaSlow <= 0 {
		out.BetaSlow = 1
	}

	if out.Factor <= 0 && out.OrigMaxCtx > 0 && maxPosition > 0 && maxPosition != out.OrigMaxCtx {
		out.Factor = float64(maxPosition) / float64(out.OrigMaxCtx)
	}
	if out.Factor <= 0 {
		out.Factor = 1
	}
	if out.Type == "yarn" && out.AttentionFactor <= 0 {
		out.AttentionFactor = yarnAttentionFactor(out.Factor, out.MScale, out.MScaleAllDim)
	} else if out.AttentionFactor <= 0 {
		out.AttentionFactor = 1
	}

	return out
}

// apply rescales invFreq in place for the configured policy and
// returns the attention magnitude factor.
func (rs *RopeScaling) apply(invFreq []float64, base float64, ctxLen int) float64 {
	if rs == nil || len(invFreq) == 0 {
		return 1
	}
	if base <= 0 {
		base = 10_000
	}
	origCtx := rs.OrigMaxCtx
	if origCtx <= 0 {
		origCtx = ctxLen
	}
	if origCtx <= 0 {
		origCtx = 1
	}

	factor := rs.Factor
	if factor <= 0 && ctxLen > 0 && origCtx > 0 {
		factor = float64(ctxLen) / float64(origCtx)
	}
	if factor <= 0 {
		factor = 1
	}

	attnFactor := rs.AttentionFactor
	if attnFactor <= 0 {
		attnFactor = 1
	}

	switch rs.Type {
	case "llama3":
		applyLlama3Scaling(invFreq, factor, float64(origCtx), rs.LowFactor, rs.HighFactor)
	case "yarn":
		if rs.AttentionFactor <= 0 {
			attnFactor = yarnAttentionFactor(factor, rs.MScale, rs.MScaleAllDim)
		}
		truncate := true
		if rs.HasTruncate {
			truncate = rs.Truncate
		}
		applyYarnScaling(invFreq, base, factor, float64(origCtx), rs.BetaFast, rs.BetaSlow, truncate)
	default:
		if factor != 1 {
			for i, f := range invFreq {
				invFreq[i] = f / factor
			}
		}
	}

	return attnFactor
}

// applyLlama3Scaling divides low-frequency bands by factor, keeps
// high-frequency bands, and blends the window between them.
func applyLlama3Scaling(invFreq []float64, factor float64, origCtx float64, lowFactor float64, highFactor float64) {
	if factor == 0 || factor == 1 || len(invFreq) == 0 {
		return
	}
	if origCtx <= 0 {
		return
	}
	if lowFactor <= 0 {
		lowFactor = 1
	}
	if highFactor <= 0 {
		highFactor = lowFactor
	}
	if highFactor <= lowFactor {
		for i, f := range invFreq {
			invFreq[i] = f / factor
		}
		return
	}

	lowFreqWavelen := origCtx / lowFactor
	highFreqWavelen := origCtx / highFactor

	for i, f := range invFreq {
		if f == 0 {
			continue
		}
		waveLen := (2 * math.Pi) / f

		if waveLen > lowFreqWavelen {
			invFreq[i] = f / factor
			continue
		}
		if waveLen < highFreqWavelen {
			invFreq[i] = f
			continue
		}

		smoothDenom := highFactor - lowFactor
		if smoothDenom == 0 {
			invFreq[i] = f / factor
			continue
		}
		smoothFactor := (origCtx/waveLen - lowFactor) / smoothDenom
		invScaled := f / factor
		invFreq[i] = (1-smoothFactor)*invScaled + smoothFactor*f
	}
}

func yarnAttentionFactor(factor float64, mscale float64, mscaleAllDim float64) float64 {
	getMScale := func(scale float64, mul float64) float64 {
		if scale <= 1 {
			return 1
		}
		if mul <= 0 {
			mul = 1
		}
		return 0.1*mul*math.Log(scale) + 1
	}

	if mscale > 0 && mscaleAllDim > 0 {
		num := getMScale(factor, mscale)
		den := getMScale(factor, mscaleAllDim)
		if den == 0 {
			return 1
		}
		return num / den
	}

	mul := mscale
	if mul <= 0 {
		mul = 1
	}
	return getMScale(factor, mul)
}

// applyYarnScaling interpolates between extrapolated and interpolated
// frequencies along a linear ramp over the correction dims.
func applyYarnScaling(invFreq []float64, base float64, factor float64, origCtx float64, betaFast float64, betaSlow float64, truncate bool) {
	if len(invFreq) == 0 || factor == 0 || factor == 1 {
		return
	}
	if base <= 1 || origCtx <= 0 {
		for i, f := range invFreq {
			invFreq[i] = f / factor
		}
		return
	}
	if betaFast <= 0 {
		betaFast = 32
	}
	if betaSlow <= 0 {
		betaSlow = 1
	}

	dimHalf := len(invFreq)
	dim := float64(dimHalf * 2)

	findCorrectionDim := func(numRotations float64) float64 {
		numer := origCtx / (numRotations * 2 * math.Pi)
		if numer <= 0 {
			return 0
		}
		denom := 2 * math.Log(base)
		if denom == 0 {
			return 0
		}
		return (dim * math.Log(numer)) / denom
	}
	findCorrectionRange := func(lowRot float64, highRot float64) (float64, float64) {
		low := findCorrectionDim(lowRot)
		high := findCorrectionDim(highRot)
		if truncate {
			low = math.Floor(low)
			high = math.Ceil(high)
		}
		if low < 0 {
			low = 0
		}
		maxDim := dim - 1
		if high > maxDim {
			high = maxDim
		}
		return low, high
	}
	linearRamp := func(min float64, max float64, i int) float64 {
		if min == max {
			max += 0.001
		}
		v := (float64(i) - min) / (max - min)
		if v < 0 {
			return 0
		}
		if v > 1 {
			return 1
		}
		return v
	}

	low, high := findCorrectionRange(betaFast, betaSlow)

	for i, f := range invFreq {
		ramp := linearRamp(low, high, i)
		invExtrap := f
		invInterp := f / factor
		invFreq[i] = invInterp*ramp + invExtrap*(1-ramp)
	}
}
