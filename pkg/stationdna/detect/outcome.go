package detect

import (
	"time"

	"github.com/himanishpuri/StationDNA/pkg/models"
	"github.com/himanishpuri/StationDNA/pkg/stationdna/cloud"
)

// Outcome is one of LocalMatch, CloudMatch or NoMatch.
type Outcome interface {
	isOutcome()
}

// LocalMatch is accepted from the fingerprint index.
type LocalMatch struct {
	TrackID       string
	HashesMatched int
	Confidence    float64
	OffsetMs      int32
	Track         *models.Track // nil when the catalog lookup failed
}

// CloudMatch is accepted from the recognition service.
type CloudMatch struct {
	Match cloud.Match
}

// NoMatch carries why neither source was accepted.
type NoMatch struct {
	Reason string
}

func (LocalMatch) isOutcome() {}
func (CloudMatch) isOutcome() {}
func (NoMatch) isOutcome()    {}

// Result is the normalized outcome of one detection. Both confidences are
// reported whatever the outcome.
type Result struct {
	Outcome         Outcome
	LocalConfidence float64
	LocalHashes     int
	LocalReason     string
	CloudConfidence *float64 // nil when the cloud was not consulted or failed
	CloudAttempted  bool
	CloudError      string
	ProcessingTime  time.Duration
}

// Source reports where the accepted match came from.
func (r Result) Source() models.DetectionSource {
	switch r.Outcome.(type) {
	case LocalMatch:
		return models.SourceLocal
	case CloudMatch:
		return models.SourceACRCloud
	default:
		return models.SourceNone
	}
}

// Matched reports whether a source was accepted.
func (r Result) Matched() bool {
	return r.Source() != models.SourceNone
}

// Confidence is the confidence of the accepted source, or the best
// confidence seen when nothing was accepted.
func (r Result) Confidence() float64 {
	switch o := r.Outcome.(type) {
	case LocalMatch:
		return o.Confidence
	case CloudMatch:
		return o.Match.Confidence
	}
	c := r.LocalConfidence
	if r.CloudConfidence != nil && *r.CloudConfidence > c {
		c = *r.CloudConfidence
	}
	return c
}

// TrackID is the catalog track of a local match.
func (r Result) TrackID() string {
	if o, ok := r.Outcome.(LocalMatch); ok {
		return o.TrackID
	}
	return ""
}

// RecordInput is the cycle context a DetectionRecord needs.
type RecordInput struct {
	SessionID      string
	StationID      string
	AudioTimestamp time.Time
	Duration       time.Duration
}

// Record builds the durable detection record. The structure is the same for
// every source; only which optional fields are filled differs.
func (r Result) Record(in RecordInput) models.DetectionRecord {
	rec := models.DetectionRecord{
		SessionID:        in.SessionID,
		StationID:        in.StationID,
		DetectionSource:  r.Source(),
		ConfidenceScore:  clamp01(r.Confidence()),
		AudioTimestamp:   in.AudioTimestamp,
		DurationSeconds:  in.Duration.Seconds(),
		ProcessingTimeMs: r.ProcessingTime.Milliseconds(),
		RawMetadata: map[string]any{
			"local_confidence": r.LocalConfidence,
			"local_hashes":     r.LocalHashes,
			"cloud_attempted":  r.CloudAttempted,
		},
	}
	if r.CloudConfidence != nil {
		rec.RawMetadata["cloud_confidence"] = *r.CloudConfidence
	}
	if r.CloudError != "" {
		rec.RawMetadata["cloud_error"] = r.CloudError
	}

	switch o := r.Outcome.(type) {
	case LocalMatch:
		rec.TrackID = o.TrackID
		rec.RawMetadata["offset_ms"] = o.OffsetMs
		if o.Track != nil {
			rec.DetectedTitle = o.Track.Title
			rec.DetectedArtist = o.Track.Artist
			rec.ISRC = o.Track.ISRC
			rec.ProAffiliation = o.Track.ProAffiliation
		}
	case CloudMatch:
		rec.DetectedTitle = o.Match.Title
		rec.DetectedArtist = o.Match.Artist
		rec.ISRC = o.Match.ISRC
		rec.ProAffiliation = o.Match.ProAffiliation
		rec.RawMetadata["acrid"] = o.Match.ACRID
		rec.RawMetadata["album"] = o.Match.Album
		rec.RawMetadata["label"] = o.Match.Label
		if o.Match.Raw != nil {
			rec.RawMetadata["acrcloud"] = o.Match.Raw
		}
	case NoMatch:
		rec.RawMetadata["reason"] = o.Reason
	}
	return rec
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
