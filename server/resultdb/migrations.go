package resultdb

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE result(
			id INTEGER PRIMARY KEY,
			session_id TEXT NOT NULL,
			source TEXT NOT NULL,
			state TEXT NOT NULL,
			created_at INT NOT NULL,
			frames INT NOT NULL,
			total_unique INT NOT NULL,
			summary TEXT NOT NULL
		);
		CREATE UNIQUE INDEX idx_result_session_id ON result (session_id);
		CREATE INDEX idx_result_created_at ON result (created_at);
	`))

	return migs
}
