package apu

import "math"

// outputFilter reproduces the three single-pole filters an NES/Famicom's
// analog output stage applies before the signal reaches the speaker: two
// high-pass sections (around 90 Hz and 440 Hz) and one low-pass section
// (around 14 kHz). It runs once per CPU cycle, ahead of the block-average
// downsample to the host sample rate, so the cutoffs are computed against
// the CPU clock rather than the output rate.
//
// No example in the retrieval pack implements an NES-accurate audio filter
// (the one PSG-related file found on inspection only carries unrelated
// clock-timing constants), so this is built directly from the standard
// single-pole RC high-pass/low-pass difference equations.
type outputFilter struct {
	hp1, hp2, lp1 onePole
}

func (f *outputFilter) init(sampleHz float64) {
	f.hp1 = newHighPass(90.0, sampleHz)
	f.hp2 = newHighPass(440.0, sampleHz)
	f.lp1 = newLowPass(14000.0, sampleHz)
}

func (f *outputFilter) reset() {
	f.hp1.prevIn, f.hp1.prevOut = 0, 0
	f.hp2.prevIn, f.hp2.prevOut = 0, 0
	f.lp1.prevIn, f.lp1.prevOut = 0, 0
}

func (f *outputFilter) process(x float32) float32 {
	y := f.hp1.step(x)
	y = f.hp2.step(y)
	y = f.lp1.step(y)
	return y
}

// onePole is a single-pole IIR stage, configured as either a high-pass or a
// low-pass by its alpha coefficient and step function.
type onePole struct {
	alpha           float64
	prevIn, prevOut float32
	highPass        bool
}

func newHighPass(cutoffHz, sampleHz float64) onePole {
	rc := 1.0 / (2 * math.Pi * cutoffHz)
	dt := 1.0 / sampleHz
	alpha := rc / (rc + dt)
	return onePole{alpha: alpha, highPass: true}
}

func newLowPass(cutoffHz, sampleHz float64) onePole {
	rc := 1.0 / (2 * math.Pi * cutoffHz)
	dt := 1.0 / sampleHz
	alpha := dt / (rc + dt)
	return onePole{alpha: alpha, highPass: false}
}

func (p *onePole) step(x float32) float32 {
	var y float32
	if p.highPass {
		y = float32(p.alpha) * (p.prevOut + x - p.prevIn)
	} else {
		y = p.prevOut + float32(p.alpha)*(x-p.prevOut)
	}
	p.prevIn = x
	p.prevOut = y
	return y
}
