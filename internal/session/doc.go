// Package session implements the lifecycle of a live transcription session.
// A session owns the audio assembler, silence gate, and transcript
// accumulator for one client, and runs a single worker goroutine that feeds
// assembled units to the recognition engine strictly in order. The manager
// tracks all active sessions and sweeps away idle ones.
package session
