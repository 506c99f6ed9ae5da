// Package dsp implements the per-frame audio conditioning chain and the
// fixed-size window aggregation that feed the verification and forwarding
// stages. All stages are deterministic functions of (input, config,
// carried filter state) and never fail across a frame boundary: a bad
// frame cannot corrupt state for the frames that follow it.
package dsp
