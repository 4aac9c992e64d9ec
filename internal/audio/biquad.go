package audio

import "math"

type FilterType string

const Lowshelf FilterType = "lowshelf"

// biquad is a second order IIR section in direct form I.
type biquad struct {
	b0, b1, b2, a1, a2 float64
	x1, x2, y1, y2     float64
}

// setLowshelf computes coefficients for a shelf of gainDB below freq with a
// slope of 1, following the Audio EQ Cookbook.
func (bq *biquad) setLowshelf(freq, gainDB float64) {
	a := math.Pow(10, gainDB/40)
	w0 := 2 * math.Pi * freq / SampleRate
	cosw, sinw := math.Cos(w0), math.Sin(w0)
	alpha := sinw / 2 * math.Sqrt2
	sqrtA2alpha := 2 * math.Sqrt(a) * alpha

	b0 := a * ((a + 1) - (a-1)*cosw + sqrtA2alpha)
	b1 := 2 * a * ((a - 1) - (a+1)*cosw)
	b2 := a * ((a + 1) - (a-1)*cosw - sqrtA2alpha)
	a0 := (a + 1) + (a-1)*cosw + sqrtA2alpha
	a1 := -2 * ((a - 1) + (a+1)*cosw)
	a2 := (a + 1) + (a-1)*cosw - sqrtA2alpha
	bq.set(b0/a0, b1/a0, b2/a0, a1/a0, a2/a0)
}

func (bq *biquad) set(b0, b1, b2, a1, a2 float64) {
	bq.b0, bq.b1, bq.b2, bq.a1, bq.a2 = b0, b1, b2, a1, a2
}

func (bq *biquad) process(in, out Frame) {
	for i, s := range in {
		x := float64(s)
		y := bq.b0*x + bq.b1*bq.x1 + bq.b2*bq.x2 - bq.a1*bq.y1 - bq.a2*bq.y2
		bq.x2, bq.x1 = bq.x1, x
		bq.y2, bq.y1 = bq.y1, y
		out[i] = clampRound16(y)
	}
}
