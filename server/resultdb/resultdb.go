// Package resultdb stores the summaries of sessions, so that results outlive the process
// that computed them.
package resultdb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/tally/server/session"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("result not found")

// MaxListLimit caps the number of results returned by List
const MaxListLimit = 1000

type ResultDB struct {
	Log logs.Log
	DB  *gorm.DB
}

// Open connects to the database described by 'cfg', creating and migrating it if necessary
func Open(log logs.Log, cfg dbh.DBConfig) (*ResultDB, error) {
	log.Infof("Opening result DB")
	db, err := dbh.OpenDB(log, cfg, Migrations(log), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open result database: %w", err)
	}
	return &ResultDB{
		Log: log,
		DB:  db,
	}, nil
}

// OpenSqlite opens or creates an sqlite result database at 'dbFilename'
func OpenSqlite(log logs.Log, dbFilename string) (*ResultDB, error) {
	os.MkdirAll(filepath.Dir(dbFilename), 0770)
	return Open(log, dbh.MakeSqliteConfig(dbFilename))
}

func (r *ResultDB) Close() {
	if db, err := r.DB.DB(); err == nil {
		db.Close()
	}
}

// Save stores the summary, replacing any earlier summary of the same session
func (r *ResultDB) Save(source string, sum *session.Summary) (*Result, error) {
	if sum.SessionID == "" {
		return nil, fmt.Errorf("Summary has no session id")
	}
	createdAt := sum.FinishedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	res := &Result{
		SessionID:   sum.SessionID,
		Source:      source,
		State:       sum.State,
		CreatedAt:   dbh.MakeIntTime(createdAt),
		Frames:      sum.Frames,
		TotalUnique: sum.Counts.TotalUniqueObjects,
		Summary:     &dbh.JSONField[session.Summary]{Data: *sum},
	}
	err := r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sum.SessionID).Delete(&Result{}).Error; err != nil {
			return err
		}
		return tx.Create(res).Error
	})
	if err != nil {
		return nil, fmt.Errorf("Failed to save result of session %v: %w", sum.SessionID, err)
	}
	return res, nil
}

// Get returns the result of a session, or ErrNotFound
func (r *ResultDB) Get(sessionID string) (*Result, error) {
	res := Result{}
	if err := r.DB.First(&res, "session_id = ?", sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrNotFound, sessionID)
		}
		return nil, err
	}
	return &res, nil
}

// List returns the most recent results, newest first
func (r *ResultDB) List(limit, offset int) ([]Result, error) {
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	results := []Result{}
	if err := r.DB.Order("created_at DESC, id DESC").Limit(limit).Offset(max(offset, 0)).Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// Count returns the number of stored results
func (r *ResultDB) Count() (int64, error) {
	n := int64(0)
	err := r.DB.Model(&Result{}).Count(&n).Error
	return n, err
}

// Delete removes the result of a session. Deleting a result that doesn't exist is not an error.
func (r *ResultDB) Delete(sessionID string) error {
	return r.DB.Where("session_id = ?", sessionID).Delete(&Result{}).Error
}
