// Package engine encapsulates the speech recognition engine behind a
// swappable adapter. The HTTP implementation uploads WAV-wrapped units as
// multipart form data with retry logic, exponential backoff, and rate
// limiting; the mock implementation drives tests.
package engine
