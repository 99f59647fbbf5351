package db

import "time"

// Batch is the provenance record of one committed merge batch.
type Batch struct {
	ID          string
	Version     int
	Seeds       int
	NewLegos    int
	References  int
	CommittedAt time.Time
}
