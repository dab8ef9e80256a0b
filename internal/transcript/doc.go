// Package transcript maintains the single growing transcript per session.
// It merges recognition results in sequence order, discarding stale
// duplicates, and exposes snapshot reads for event publication.
package transcript
