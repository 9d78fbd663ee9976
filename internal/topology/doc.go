// Package topology merges upstream configuration with the live status feed
// into display-level ServerViews, and keeps the latest result per upstream.
package topology
