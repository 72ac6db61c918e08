package models

import "time"

// FingerprintEntry is one (track, hash, offset) triple of a reference recording.
type FingerprintEntry struct {
	TrackID  string // UUID of the track
	Hash     uint32 // packed [anchorFreq | targetFreq | deltaMs] address
	OffsetMs uint32 // anchor time in the reference recording
}

// HashOffset is a hash derived from a query buffer and the anchor time it was found at.
type HashOffset struct {
	Hash     uint32
	OffsetMs uint32
}

// Track is a catalog entry for a reference recording.
type Track struct {
	ID             string // UUID
	Title          string
	Artist         string
	ISRC           string
	ProAffiliation string // rights society the track is registered with
	DurationMs     int
}

// Station is a monitored radio station.
type Station struct {
	ID        string
	Name      string
	StreamURL string
	Territory string // ISO 3166-1 alpha-2 code, used for PRO routing
}

// DetectionSource names where a detection came from.
type DetectionSource string

const (
	SourceLocal    DetectionSource = "local"
	SourceACRCloud DetectionSource = "acrcloud"

	// SourceNone marks a persisted no-match record. It is an audit value
	// only and never names where a match came from.
	SourceNone DetectionSource = "none"
)

// DetectionRecord is the durable result of one capture cycle.
type DetectionRecord struct {
	ID               string
	SessionID        string
	StationID        string
	TrackID          string // only for local detections
	DetectionSource  DetectionSource
	ConfidenceScore  float64 // always in [0,1]
	DetectedTitle    string
	DetectedArtist   string
	ISRC             string
	ProAffiliation   string
	AudioTimestamp   time.Time
	DurationSeconds  float64
	ProcessingTimeMs int64
	RawMetadata      map[string]any
}

// Matched reports whether the record identifies a track.
func (r DetectionRecord) Matched() bool {
	return r.DetectionSource == SourceLocal || r.DetectionSource == SourceACRCloud
}
