package resultdb

import (
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/tally/server/session"
)

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

// Result is the summary of one finished (or failed) session.
// The columns other than Summary are copies of summary fields, so that we can list results
// without decoding every summary.
type Result struct {
	BaseModel
	SessionID   string                          `json:"sessionID"`
	Source      string                          `json:"source"` // Name of the uploaded label file, or the CLI input path
	State       session.State                   `json:"state"`
	CreatedAt   dbh.IntTime                     `json:"createdAt"`
	Frames      int                             `json:"frames"`
	TotalUnique int                             `json:"totalUnique"`
	Summary     *dbh.JSONField[session.Summary] `json:"summary"`
}

func (Result) TableName() string {
	return "result"
}
