// Package monitor is the engine that ties polling, the sliding window, rate
// derivation and topology reconciliation together.
//
// Collaborators are injected: a snapshot source and a status source (the
// gateway client in production), the upstream manager for config refreshes,
// and the window and topology stores. The engine owns the scheduler's two
// timers and notifies registered observers after every poll.
//
// No external failure is fatal. A failed metrics poll leaves the window
// unchanged; a failed topology poll leaves the last reconciled views in place.
package monitor
