package loss

import "github.com/chewxy/math32"

// Epsilon bounds predicted probabilities away from 0 and 1.
const Epsilon = 1e-7

// BCE is the binary cross-entropy of a single probability p against target y.
//
// p is clipped to [Epsilon, 1-Epsilon] and Epsilon is added inside the
// logarithms, so the result is always finite.
func BCE(y, p float32) float32 {
	p = math32.Max(Epsilon, math32.Min(p, 1-Epsilon))
	return -(y*math32.Log(p+Epsilon) + (1-y)*math32.Log(1-p+Epsilon))
}

// MeanBCE averages BCE over aligned target and probability vectors.
func MeanBCE(y, p []float32) float32 {
	if len(y) == 0 {
		return 0
	}
	var sum float32
	for k := range y {
		sum += BCE(y[k], p[k])
	}
	return sum / float32(len(y))
}

// Focal is the sigmoid focal loss.
//
//	FL = (1 - p_t)^gamma * alpha_t * BCE
//	p_t     = y*p + (1-y)*(1-p)
//	alpha_t = y*alpha + (1-y)*(1-alpha)
type Focal struct {
	Gamma float32
	Alpha float32
}

// DefaultFocal returns gamma 2 and alpha 0.25.
func DefaultFocal() Focal {
	return Focal{Gamma: 2, Alpha: 0.25}
}

// weight returns the modulating and alpha factors (1 - p_t)^gamma * alpha_t.
func (f Focal) weight(y, p float32) float32 {
	pt := y*p + (1-y)*(1-p)
	alpha := y*f.Alpha + (1-y)*(1-f.Alpha)
	return math32.Pow(1-pt, f.Gamma) * alpha
}

// Element returns the focal loss of one probability.
func (f Focal) Element(y, p float32) float32 {
	return f.weight(y, p) * BCE(y, p)
}

// Classes returns the focal loss over the class axis of one slot.
//
// The cross-entropy factor is MeanBCE(y, p), shared by every class, and each
// class contributes its own weight:
//
//	FL = MeanBCE(y, p) * sum_k (1 - p_t,k)^gamma * alpha_t,k
func (f Focal) Classes(y, p []float32) float32 {
	var sum float32
	for k := range y {
		sum += f.weight(y[k], p[k])
	}
	return MeanBCE(y, p) * sum
}
