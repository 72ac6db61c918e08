package stationdna

import (
	"time"

	"github.com/himanishpuri/StationDNA/pkg/models"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/monitor"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/storage"
)

// Identification is the flattened outcome of a one-shot detection.
type Identification struct {
	Matched         bool                   // a track was accepted
	Source          models.DetectionSource // local, acrcloud or none
	Confidence      float64                // in [0,1]
	TrackID         string                 // local matches only
	Title           string
	Artist          string
	ISRC            string
	ProAffiliation  string
	LocalConfidence float64
	LocalHashes     int
	CloudConfidence *float64 // nil when the cloud was not consulted
	CloudError      string
	Reason          string // why nothing matched
	ProcessingTime  time.Duration
}

var (
	ErrSessionNotFound = monitor.ErrSessionNotFound
	ErrSessionExists   = monitor.ErrSessionExists
	ErrNotFound        = storage.ErrNotFound
)
