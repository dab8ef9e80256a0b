// Package summary generates a post-session recap of a finished transcript
// with an LLM. Summarization runs on demand after a session ends; it never
// sits on the live recognition path.
package summary
