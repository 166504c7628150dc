package domain

import "time"

// SyncStats holds statistics about a sync operation.
type SyncStats struct {
	SourceID  string
	Retrieved int
	Added     int
	Updated   int
	Errors    int
	Published int
	Duration  time.Duration
}
