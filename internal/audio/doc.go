// Package audio handles audio buffering, unit assembly, and format conversion.
// It turns arbitrarily-sized PCM-16 writes into fixed-duration recognition
// units with overlap stitching, applies an energy-based silence gate, and
// encodes units to WAV format for the recognition engine.
package audio
