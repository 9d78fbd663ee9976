// Package scheduler drives the two repeating poll loops (metrics and
// topology). Each Timer polls once immediately on Start and then on every
// tick; stopping a timer never cancels a poll that is already running.
package scheduler
