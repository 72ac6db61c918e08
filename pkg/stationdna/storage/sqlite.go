package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/himanishpuri/StationDNA/pkg/models"
	"github.com/himanishpuri/StationDNA/pkg/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const DefaultDBFile = "stationdna.sqlite3"
const errDBClientNil = "db client is nil"

var ErrNotFound = errors.New("not found")

type DBClient struct {
	DB *gorm.DB
	db *sql.DB
}

type Track struct {
	ID             string `gorm:"primaryKey;type:varchar(36)"`
	Title          string `gorm:"uniqueIndex:idx_track_unique,priority:1;index:idx_track_meta,priority:1" json:"title"`
	Artist         string `gorm:"uniqueIndex:idx_track_unique,priority:2;index:idx_track_meta,priority:2" json:"artist"`
	ISRC           string `gorm:"index:idx_isrc" json:"isrc"`
	ProAffiliation string `json:"pro_affiliation"`
	DurationMs     int    `json:"duration_ms"`
	CreatedAt      time.Time
}

type Fingerprint struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	Hash     uint32 `gorm:"index:idx_hash" json:"hash"`
	TrackID  string `gorm:"type:varchar(36);index:idx_track" json:"track_id"`
	OffsetMs uint32 `json:"offset_ms"`
}

type Station struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	Name      string `gorm:"uniqueIndex:idx_station_name" json:"name"`
	StreamURL string `json:"stream_url"`
	Territory string `gorm:"type:varchar(2)" json:"territory"`
	CreatedAt time.Time
}

type Detection struct {
	ID               string    `gorm:"primaryKey;type:varchar(36)"`
	SessionID        string    `gorm:"type:varchar(36);index:idx_detection_session" json:"session_id"`
	StationID        string    `gorm:"type:varchar(36);index:idx_detection_station,priority:1" json:"station_id"`
	TrackID          string    `gorm:"type:varchar(36)" json:"track_id"`
	DetectionSource  string    `gorm:"type:varchar(16)" json:"detection_source"`
	ConfidenceScore  float64   `json:"confidence_score"`
	DetectedTitle    string    `json:"detected_title"`
	DetectedArtist   string    `json:"detected_artist"`
	ISRC             string    `json:"isrc"`
	ProAffiliation   string    `json:"pro_affiliation"`
	AudioTimestamp   time.Time `gorm:"index:idx_detection_station,priority:2" json:"audio_timestamp"`
	DurationSeconds  float64   `json:"duration_seconds"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	RawMetadata      string    `gorm:"type:text" json:"raw_metadata"`
	CreatedAt        time.Time
}

func NewDBClient() (*DBClient, error) {
	dbPath := os.Getenv("STATIONDNA_DB_PATH")
	if dbPath == "" {
		dbPath = DefaultDBFile
	}
	return NewDBClientWithPath(dbPath)
}

func NewDBClientWithPath(dbPath string) (*DBClient, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(sqlite.Open(dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}

	// sqlite serializes writers; several session workers insert concurrently
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&Track{}, &Fingerprint{}, &Station{}, &Detection{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &DBClient{DB: db, db: sqlDB}, nil
}

func (c *DBClient) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *DBClient) ready() error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// RegisterTrack returns the ID of the track with this title and artist,
// creating it when absent.
func (c *DBClient) RegisterTrack(ctx context.Context, t models.Track) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	db := c.DB.WithContext(ctx)

	var row Track
	err := db.Where("title = ? AND artist = ?", t.Title, t.Artist).First(&row).Error
	if err == nil {
		updates := map[string]any{}
		if row.ISRC == "" && t.ISRC != "" {
			updates["isrc"] = t.ISRC
		}
		if row.ProAffiliation == "" && t.ProAffiliation != "" {
			updates["pro_affiliation"] = t.ProAffiliation
		}
		if len(updates) > 0 {
			if err := db.Model(&row).Updates(updates).Error; err != nil {
				return "", fmt.Errorf("updating track metadata: %w", err)
			}
		}
		return row.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("querying existing track: %w", err)
	}

	id := t.ID
	if id == "" {
		id = utils.GenerateUUID()
	}
	row = Track{ID: id, Title: t.Title, Artist: t.Artist, ISRC: t.ISRC, ProAffiliation: t.ProAffiliation, DurationMs: t.DurationMs}
	if err := db.Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			if fetchErr := db.Where("title = ? AND artist = ?", t.Title, t.Artist).First(&row).Error; fetchErr != nil {
				return "", fmt.Errorf("fetching track after constraint violation: %w", fetchErr)
			}
			return row.ID, nil
		}
		return "", fmt.Errorf("creating track: %w", err)
	}
	return row.ID, nil
}

func (c *DBClient) GetTrack(ctx context.Context, id string) (*models.Track, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	var row Track
	if err := c.DB.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("track %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("querying track: %w", err)
	}
	t := row.model()
	return &t, nil
}

func (c *DBClient) ListTracks(ctx context.Context) ([]models.Track, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	var rows []Track
	if err := c.DB.WithContext(ctx).Order("artist, title").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing tracks: %w", err)
	}
	out := make([]models.Track, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

func (r Track) model() models.Track {
	return models.Track{
		ID:             r.ID,
		Title:          r.Title,
		Artist:         r.Artist,
		ISRC:           r.ISRC,
		ProAffiliation: r.ProAffiliation,
		DurationMs:     r.DurationMs,
	}
}

// DeleteTrack removes a track and its fingerprints in one transaction.
func (c *DBClient) DeleteTrack(ctx context.Context, id string) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("track_id = ?", id).Delete(&Fingerprint{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&Track{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("track %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

func (c *DBClient) StoreFingerprints(ctx context.Context, entries []models.FingerprintEntry) error {
	if err := c.ready(); err != nil {
		return err
	}
	db := c.DB.WithContext(ctx)

	rows := make([]Fingerprint, 0, 1024)
	for _, e := range entries {
		rows = append(rows, Fingerprint{Hash: e.Hash, TrackID: e.TrackID, OffsetMs: e.OffsetMs})
		if len(rows) >= 1000 {
			if err := db.CreateInBatches(rows, 500).Error; err != nil {
				return fmt.Errorf("batch insert fingerprints: %w", err)
			}
			rows = rows[:0]
		}
	}
	if len(rows) > 0 {
		if err := db.CreateInBatches(rows, 500).Error; err != nil {
			return fmt.Errorf("batch insert last fingerprints: %w", err)
		}
	}
	return nil
}

// ListFingerprints returns every stored entry. The index loads this wholesale.
func (c *DBClient) ListFingerprints(ctx context.Context) ([]models.FingerprintEntry, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	var rows []Fingerprint
	if err := c.DB.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing fingerprints: %w", err)
	}
	out := make([]models.FingerprintEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.FingerprintEntry{TrackID: r.TrackID, Hash: r.Hash, OffsetMs: r.OffsetMs})
	}
	return out, nil
}

func (c *DBClient) CountFingerprints(ctx context.Context, trackID string) (int64, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	var n int64
	q := c.DB.WithContext(ctx).Model(&Fingerprint{})
	if trackID != "" {
		q = q.Where("track_id = ?", trackID)
	}
	if err := q.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting fingerprints: %w", err)
	}
	return n, nil
}

func (c *DBClient) AddStation(ctx context.Context, s models.Station) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	if s.Name == "" || s.StreamURL == "" {
		return "", errors.New("station needs a name and a stream URL")
	}
	if s.ID == "" {
		s.ID = utils.GenerateUUID()
	}
	row := Station{ID: s.ID, Name: s.Name, StreamURL: s.StreamURL, Territory: strings.ToUpper(s.Territory)}
	if err := c.DB.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("station %q already exists", s.Name)
		}
		return "", fmt.Errorf("creating station: %w", err)
	}
	return row.ID, nil
}

func (c *DBClient) GetStation(ctx context.Context, id string) (*models.Station, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	var row Station
	if err := c.DB.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("station %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("querying station: %w", err)
	}
	st := row.model()
	return &st, nil
}

// GetStreamURL returns the stored stream URL for a station.
func (c *DBClient) GetStreamURL(ctx context.Context, stationID string) (string, error) {
	st, err := c.GetStation(ctx, stationID)
	if err != nil {
		return "", err
	}
	return st.StreamURL, nil
}

func (c *DBClient) ListStations(ctx context.Context) ([]models.Station, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	var rows []Station
	if err := c.DB.WithContext(ctx).Order("name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing stations: %w", err)
	}
	out := make([]models.Station, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

func (r Station) model() models.Station {
	return models.Station{ID: r.ID, Name: r.Name, StreamURL: r.StreamURL, Territory: r.Territory}
}

// CreateDetectionRecord inserts a record and returns its ID. Records are
// never updated afterwards.
func (c *DBClient) CreateDetectionRecord(ctx context.Context, rec models.DetectionRecord) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	raw := "{}"
	if len(rec.RawMetadata) > 0 {
		b, err := json.Marshal(rec.RawMetadata)
		if err != nil {
			return "", fmt.Errorf("encoding raw metadata: %w", err)
		}
		raw = string(b)
	}
	id := rec.ID
	if id == "" {
		id = utils.GenerateUUID()
	}
	row := Detection{
		ID:               id,
		SessionID:        rec.SessionID,
		StationID:        rec.StationID,
		TrackID:          rec.TrackID,
		DetectionSource:  string(rec.DetectionSource),
		ConfidenceScore:  rec.ConfidenceScore,
		DetectedTitle:    rec.DetectedTitle,
		DetectedArtist:   rec.DetectedArtist,
		ISRC:             rec.ISRC,
		ProAffiliation:   rec.ProAffiliation,
		AudioTimestamp:   rec.AudioTimestamp.UTC(),
		DurationSeconds:  rec.DurationSeconds,
		ProcessingTimeMs: rec.ProcessingTimeMs,
		RawMetadata:      raw,
	}
	if err := c.DB.WithContext(ctx).Create(&row).Error; err != nil {
		return "", fmt.Errorf("creating detection record: %w", err)
	}
	return id, nil
}

// ListDetections returns the newest records first. An empty stationID lists
// all stations; limit <= 0 means 100.
func (c *DBClient) ListDetections(ctx context.Context, stationID string, limit int) ([]models.DetectionRecord, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	q := c.DB.WithContext(ctx).Order("audio_timestamp desc").Limit(limit)
	if stationID != "" {
		q = q.Where("station_id = ?", stationID)
	}
	var rows []Detection
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing detections: %w", err)
	}
	out := make([]models.DetectionRecord, 0, len(rows))
	for _, r := range rows {
		rec := models.DetectionRecord{
			ID:               r.ID,
			SessionID:        r.SessionID,
			StationID:        r.StationID,
			TrackID:          r.TrackID,
			DetectionSource:  models.DetectionSource(r.DetectionSource),
			ConfidenceScore:  r.ConfidenceScore,
			DetectedTitle:    r.DetectedTitle,
			DetectedArtist:   r.DetectedArtist,
			ISRC:             r.ISRC,
			ProAffiliation:   r.ProAffiliation,
			AudioTimestamp:   r.AudioTimestamp,
			DurationSeconds:  r.DurationSeconds,
			ProcessingTimeMs: r.ProcessingTimeMs,
		}
		if r.RawMetadata != "" {
			if err := json.Unmarshal([]byte(r.RawMetadata), &rec.RawMetadata); err != nil {
				return nil, fmt.Errorf("decoding raw metadata of %s: %w", r.ID, err)
			}
		}
		out = append(out, rec)
	}
	return out, nil
}
