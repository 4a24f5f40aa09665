// Package system provides the wall clock used for job timestamps.
package system

import "time"

// Clock implements scrape.Clock. Timestamps are UTC so job JSON never depends
// on the host's zone.
type Clock struct{}

// New returns the wall clock.
func New() *Clock { return &Clock{} }

// Now returns the current UTC time.
func (*Clock) Now() time.Time { return time.Now().UTC() }
