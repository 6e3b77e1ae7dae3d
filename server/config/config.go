// Package config is the configuration of the tally HTTP service
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/tally/pkg/kibi"
	"github.com/cyclopcam/tally/pkg/nn"
	"github.com/cyclopcam/tally/pkg/storage"
)

const DefaultFilename = "tally.json"

type Config struct {
	Listen         string         `json:"listen"`         // eg ":8090"
	DataDir        string         `json:"dataDir"`        // Default home of the database and artifacts
	DB             *dbh.DBConfig  `json:"db"`             // If nil, an sqlite DB inside DataDir
	Storage        storage.Config `json:"storage"`        // If empty, a directory inside DataDir
	WeightBearing  []string       `json:"weightBearing"`  // Classes that receive a weight index
	Classes        []string       `json:"classes"`        // Class names that get a fixed overlay color
	AutoTrack      bool           `json:"autoTrack"`      // Assign track ids to detections that lack them
	MaxUpload      string         `json:"maxUpload"`      // Maximum size of a submitted session, eg "512 MB"
	MaxSessions    int            `json:"maxSessions"`    // Maximum number of sessions running at once
	SubmitPerMin   int            `json:"submitPerMin"`   // Rate limit of session submissions, per IP
	FrameEvery     int            `json:"frameEvery"`     // Store one in this many annotated frames
	JPEGQuality    int            `json:"jpegQuality"`    // Quality of stored frames (1..100)
	RecentSessions int            `json:"recentSessions"` // Finished sessions kept in memory, in addition to the DB
}

// Default returns a configuration that runs with no config file
func Default() *Config {
	cfg := &Config{AutoTrack: true}
	cfg.SetDefaults()
	return cfg
}

// Load reads a config file. Missing fields receive their defaults.
// If 'filename' is empty, DefaultFilename is used.
func Load(filename string) (*Config, error) {
	if filename == "" {
		filename = DefaultFilename
	}
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("Error loading %v: %w", filename, err)
	}
	cfg := &Config{AutoTrack: true}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("Error loading as JSON %v: %w", filename, err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("Invalid config %v: %w", filename, err)
	}
	return cfg, nil
}

// SetDefaults fills in every field that has not been set
func (c *Config) SetDefaults() {
	if c.Listen == "" {
		c.Listen = ":8090"
	}
	if c.DataDir == "" {
		c.DataDir = "tally-data"
	}
	if c.DB == nil {
		db := dbh.MakeSqliteConfig(filepath.Join(c.DataDir, "results.sqlite"))
		c.DB = &db
	}
	if c.Storage.Filesystem == nil && c.Storage.GCS == nil {
		c.Storage.Filesystem = &storage.ConfigFilesystem{Root: filepath.Join(c.DataDir, "artifacts")}
	}
	if c.WeightBearing == nil {
		c.WeightBearing = []string{"bird"}
	}
	if c.Classes == nil {
		c.Classes = nn.COCOClasses
	}
	if c.MaxUpload == "" {
		c.MaxUpload = "512 MB"
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = 2
	}
	if c.SubmitPerMin <= 0 {
		c.SubmitPerMin = 10
	}
	if c.FrameEvery <= 0 {
		c.FrameEvery = 10
	}
	if c.JPEGQuality <= 0 {
		c.JPEGQuality = 85
	}
	if c.RecentSessions <= 0 {
		c.RecentSessions = 32
	}
}

func (c *Config) Validate() error {
	if c.Storage.Filesystem != nil && c.Storage.GCS != nil {
		return errors.New("Only one of storage.filesystem and storage.gcs may be set")
	}
	if n, err := kibi.ParseBytes(c.MaxUpload); err != nil {
		return fmt.Errorf("Invalid maxUpload: %w", err)
	} else if n <= 0 {
		return errors.New("maxUpload must be more than zero")
	}
	if c.JPEGQuality > 100 {
		return fmt.Errorf("jpegQuality must be between 1 and 100 (not %v)", c.JPEGQuality)
	}
	return nil
}

// MaxUploadBytes is MaxUpload in bytes. Validate rejects a MaxUpload that can't be parsed.
func (c *Config) MaxUploadBytes() int64 {
	n, _ := kibi.ParseBytes(c.MaxUpload)
	return n
}
