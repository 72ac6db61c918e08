package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/himanishpuri/StationDNA/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DBClient {
	t.Helper()
	db, err := NewDBClientWithPath(filepath.Join(t.TempDir(), "nested", "test.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRegisterTrackIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	id1, err := db.RegisterTrack(ctx, models.Track{Title: "Kpanlogo", Artist: "Ebo Taylor"})
	require.NoError(t, err)
	id2, err := db.RegisterTrack(ctx, models.Track{Title: "Kpanlogo", Artist: "Ebo Taylor", ISRC: "GHA011900001"})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	tr, err := db.GetTrack(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, "GHA011900001", tr.ISRC, "missing metadata is filled on re-register")
}

func TestFingerprintRoundTripAndDelete(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	a, err := db.RegisterTrack(ctx, models.Track{Title: "A", Artist: "X"})
	require.NoError(t, err)
	b, err := db.RegisterTrack(ctx, models.Track{Title: "B", Artist: "X"})
	require.NoError(t, err)

	var entries []models.FingerprintEntry
	for i := 0; i < 1500; i++ {
		entries = append(entries, models.FingerprintEntry{TrackID: a, Hash: uint32(i), OffsetMs: uint32(i * 10)})
	}
	entries = append(entries, models.FingerprintEntry{TrackID: b, Hash: 7, OffsetMs: 70})
	require.NoError(t, db.StoreFingerprints(ctx, entries))

	all, err := db.ListFingerprints(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1501)
	assert.Equal(t, entries[0], all[0])

	n, err := db.CountFingerprints(ctx, b)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	require.NoError(t, db.DeleteTrack(ctx, a))
	all, err = db.ListFingerprints(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = db.GetTrack(ctx, a)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, db.DeleteTrack(ctx, a), ErrNotFound)

	tracks, err := db.ListTracks(ctx)
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, "B", tracks[0].Title)
}

func TestStations(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	id, err := db.AddStation(ctx, models.Station{Name: "Joy FM", StreamURL: "http://radio.example/joy", Territory: "gh"})
	require.NoError(t, err)

	url, err := db.GetStreamURL(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "http://radio.example/joy", url)

	st, err := db.GetStation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "GH", st.Territory)

	_, err = db.AddStation(ctx, models.Station{Name: "Joy FM", StreamURL: "http://other"})
	assert.Error(t, err)
	_, err = db.AddStation(ctx, models.Station{Name: "No URL"})
	assert.Error(t, err)

	_, err = db.GetStreamURL(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := db.ListStations(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestDetectionRecords(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, src := range []models.DetectionSource{models.SourceLocal, models.SourceNone, models.SourceACRCloud} {
		_, err := db.CreateDetectionRecord(ctx, models.DetectionRecord{
			SessionID:       "s1",
			StationID:       "st1",
			DetectionSource: src,
			ConfidenceScore: 0.9,
			AudioTimestamp:  base.Add(time.Duration(i) * 30 * time.Second),
			RawMetadata:     map[string]any{"local_hashes": 12},
		})
		require.NoError(t, err)
	}
	_, err := db.CreateDetectionRecord(ctx, models.DetectionRecord{StationID: "st2", DetectionSource: models.SourceNone, AudioTimestamp: base})
	require.NoError(t, err)

	recs, err := db.ListDetections(ctx, "st1", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, models.SourceACRCloud, recs[0].DetectionSource, "newest first")
	assert.True(t, recs[0].AudioTimestamp.Equal(base.Add(time.Minute)))
	assert.EqualValues(t, 12, recs[0].RawMetadata["local_hashes"])

	recs, err = db.ListDetections(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, recs, 4)
}

func TestNilClient(t *testing.T) {
	var db *DBClient
	_, err := db.ListFingerprints(context.Background())
	assert.Error(t, err)
	assert.NoError(t, db.Close())
}
