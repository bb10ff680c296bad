// Package scheduler drives measurement cycles from a single timer loop.
//
// The loop owns every cycle: timer fires and manual triggers are executed on
// the same goroutine, so at most one cycle is in flight. The next fire time
// is computed from the current interval when the loop arms its timer, so an
// interval change never shortens or extends a wait already in progress.
package scheduler
