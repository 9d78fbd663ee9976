// Package statusfeed parses the gateway's plain-text upstream health page
// (GET /upstream/status) into a structured Snapshot.
//
// The page is a fixed grammar of three line kinds:
//
//	Upstream api.example.com (NO checkers)
//	    Primary Peers
//	        10.0.0.1:80 UP
//	    Backup Peers
//	        10.0.0.2:80 DOWN
//
// Parsing is a single left-to-right scan through a small state machine. Each
// line is classified as HEADER, SECTION, PEER, or IGNORED; only PEER lines seen
// inside a section of a known upstream are recorded. Unrecognized lines are
// skipped and counted, so malformed input degrades instead of failing.
package statusfeed
