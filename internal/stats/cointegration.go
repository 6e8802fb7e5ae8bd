// Package stats implements the statistical-arbitrage engine: pair
// discovery, cointegration testing, and rolling z-score signals.
package stats

import (
	"math"
	"time"

	"github.com/kitefin/arbot/internal/domain"
)

// ADF critical values at 1%, 5%, and 10% for the no-trend case.
var adfCriticalValues = [3]float64{-3.43, -2.86, -2.57}

const (
	// maxHalfLife rejects pairs whose residuals revert too slowly to trade.
	maxHalfLife = 100.0
	// maxHurst rejects pairs whose residuals trend rather than revert.
	maxHurst = 0.7
)

// olsResult is the closed-form simple regression of y on x.
type olsResult struct {
	Slope     float64
	Intercept float64
	RSquared  float64
}

// ols fits y = slope*x + intercept by ordinary least squares.
func ols(x, y []float64) olsResult {
	n := float64(len(x))
	if n == 0 || len(x) != len(y) {
		return olsResult{}
	}
	var sumX, sumY, sumXY, sumXX, sumYY float64
	for i := range x {
		sumX += x[i]
		sumY += y[i]
		sumXY += x[i] * y[i]
		sumXX += x[i] * x[i]
		sumYY += y[i] * y[i]
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return olsResult{}
	}
	slope := (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n

	// R² from the correlation coefficient.
	var r2 float64
	dy := n*sumYY - sumY*sumY
	if dy > 0 && denom > 0 {
		r := (n*sumXY - sumX*sumY) / math.Sqrt(denom*dy)
		r2 = r * r
	}
	return olsResult{Slope: slope, Intercept: intercept, RSquared: r2}
}

// adfStatistic computes a Dickey–Fuller style t-statistic at lag one for the
// residual series; no lagged-difference (augmentation) terms are included.
// More negative means stronger rejection of a unit root.
func adfStatistic(resid []float64) float64 {
	n := len(resid)
	if n < 4 {
		return 0
	}
	// Regress Δr_t on r_{t-1} (lag 1) in a simple regression with an
	// intercept.
	x := make([]float64, 0, n-1)
	y := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		x = append(x, resid[i-1])
		y = append(y, resid[i]-resid[i-1])
	}
	fit := ols(x, y)

	// Standard error of the slope.
	var sse, sxx float64
	meanX := mean(x)
	for i := range x {
		pred := fit.Slope*x[i] + fit.Intercept
		sse += (y[i] - pred) * (y[i] - pred)
		sxx += (x[i] - meanX) * (x[i] - meanX)
	}
	df := float64(len(x) - 2)
	if df <= 0 || sxx == 0 || sse == 0 {
		return 0
	}
	se := math.Sqrt(sse/df) / math.Sqrt(sxx)
	if se == 0 {
		return 0
	}
	return fit.Slope / se
}

// halfLife estimates the mean-reversion half-life via AR(1) on the
// residuals: λ = Σ(Δr_i · r_{i-1}) / Σ r_{i-1}², halfLife = ln 2 / |λ|.
func halfLife(resid []float64) float64 {
	n := len(resid)
	if n < 3 {
		return math.Inf(1)
	}
	var num, den float64
	for i := 1; i < n; i++ {
		num += (resid[i] - resid[i-1]) * resid[i-1]
		den += resid[i-1] * resid[i-1]
	}
	if den == 0 {
		return math.Inf(1)
	}
	lambda := num / den
	if lambda == 0 {
		return math.Inf(1)
	}
	return math.Ln2 / math.Abs(lambda)
}

// hurstExponent estimates long-range dependence via rescaled range on the
// cumulative demeaned residuals. H < 0.5 implies mean reversion.
func hurstExponent(resid []float64) float64 {
	n := len(resid)
	if n < 20 {
		return 0.5
	}

	m := mean(resid)
	cum := make([]float64, n)
	acc := 0.0
	for i, r := range resid {
		acc += r - m
		cum[i] = acc
	}

	// R/S over a few dyadic window sizes, fit log(R/S) against log(size).
	var logSizes, logRS []float64
	for size := 10; size <= n/2; size *= 2 {
		var rsSum float64
		windows := 0
		for start := 0; start+size <= n; start += size {
			seg := resid[start : start+size]
			segMean := mean(seg)
			var cmax, cmin, c, variance float64
			for _, v := range seg {
				c += v - segMean
				if c > cmax {
					cmax = c
				}
				if c < cmin {
					cmin = c
				}
				variance += (v - segMean) * (v - segMean)
			}
			std := math.Sqrt(variance / float64(size))
			if std == 0 {
				continue
			}
			rsSum += (cmax - cmin) / std
			windows++
		}
		if windows == 0 {
			continue
		}
		logSizes = append(logSizes, math.Log(float64(size)))
		logRS = append(logRS, math.Log(rsSum/float64(windows)))
	}
	if len(logSizes) < 2 {
		return 0.5
	}
	return ols(logSizes, logRS).Slope
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

// stddev returns the sample standard deviation.
func stddev(xs []float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}
	m := mean(xs)
	var s float64
	for _, x := range xs {
		s += (x - m) * (x - m)
	}
	return math.Sqrt(s / float64(n-1))
}

// TestCointegration runs the full pipeline on two aligned price series.
// minSamples is 0.8× the configured lookback; shorter series are reported
// not cointegrated without running the tests.
func TestCointegration(pricesA, pricesB []float64, minSamples int) domain.Cointegration {
	out := domain.Cointegration{TestedAt: time.Now()}

	n := len(pricesA)
	if len(pricesB) < n {
		n = len(pricesB)
	}
	out.SampleCount = n
	if n < minSamples {
		return out
	}

	logA := make([]float64, n)
	logB := make([]float64, n)
	for i := 0; i < n; i++ {
		if pricesA[i] <= 0 || pricesB[i] <= 0 {
			return out
		}
		logA[i] = math.Log(pricesA[i])
		logB[i] = math.Log(pricesB[i])
	}

	fit := ols(logB, logA)
	out.Slope = fit.Slope
	out.Intercept = fit.Intercept
	out.RSquared = fit.RSquared

	resid := make([]float64, n)
	for i := 0; i < n; i++ {
		resid[i] = logA[i] - (fit.Slope*logB[i] + fit.Intercept)
	}

	out.ADFStatistic = adfStatistic(resid)
	if out.ADFStatistic > adfCriticalValues[0] {
		return out
	}

	out.HalfLife = halfLife(resid)
	if out.HalfLife > maxHalfLife {
		return out
	}

	out.HurstExponent = hurstExponent(resid)
	if out.HurstExponent > maxHurst {
		return out
	}

	out.Cointegrated = true
	return out
}
