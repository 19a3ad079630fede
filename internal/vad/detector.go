// Package vad turns the continuous frame stream into discrete utterance
// segments. Classification always runs in-process: the detector executes
// at frame rate and must never pay a network round trip.
package vad

import (
	"math"

	"meeting-scribe/internal/audio"
)

// Detector classifies one frame of samples as speech with a probability
// in [0,1]. Implementations must be cheap enough to run per frame on the
// capture path.
type Detector interface {
	Probability(samples []int16) float64
}

// EnergyDetector maps smoothed frame energy above an adaptive noise floor
// to a speech probability. It is the default local classifier; a model-
// backed detector can replace it behind the same interface.
type EnergyDetector struct {
	noiseFloorDB float64
	beta         float64 // smoothing factor for the probability
	last         float64
	primed       bool
}

// NewEnergyDetector creates a detector with the given noise floor (dBFS)
// and exponential smoothing factor in [0,1); higher beta smooths more.
func NewEnergyDetector(noiseFloorDB, beta float64) *EnergyDetector {
	return &EnergyDetector{noiseFloorDB: noiseFloorDB, beta: beta}
}

// Probability implements Detector.
func (d *EnergyDetector) Probability(samples []int16) float64 {
	db := audio.DB(audio.RMS(samples))

	// Map [-noiseFloor .. noiseFloor+30dB] linearly onto [0,1]; a frame
	// 30dB over the floor is treated as certain speech.
	raw := (db - d.noiseFloorDB) / 30.0
	raw = math.Max(0, math.Min(1, raw))

	if !d.primed {
		d.primed = true
		d.last = raw
		return raw
	}
	p := d.beta*d.last + (1-d.beta)*raw
	d.last = p
	return p
}
