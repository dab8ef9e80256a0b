// Package broadcast provides per-session publish/subscribe fan-out of
// transcript events. Subscribers receive a snapshot of the current
// transcript on attach, live updates thereafter, periodic keep-alives, and
// a terminal event when the session ends. There is no replay: events
// published with no subscriber attached are dropped.
package broadcast
