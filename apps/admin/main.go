package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/services/auth/jwtauth"
	logsvc "github.com/trezcool/masomo-portal/services/logger"
	"github.com/trezcool/masomo-portal/storage/database"
	dummydb "github.com/trezcool/masomo-portal/storage/database/dummy"
	sqlxrepos "github.com/trezcool/masomo-portal/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stderr, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	cli := commandLine{
		conf:     conf,
		provider: jwtauth.NewProvider(conf),
		validate: core.NewValidator(core.NewTranslator()),
		out:      os.Stdout,
	}

	if conf.Database.Storage == "postgres" {
		db, err := database.Open(context.Background(), conf)
		if err != nil {
			logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
		}
		defer func() { _ = db.Close() }()
		cli.db = db.DB
		cli.repo = sqlxrepos.NewProfileRepository(db)
	} else {
		db, _ := dummydb.Open()
		cli.repo = dummydb.NewProfileRepository(db)
	}

	if err := cli.run(os.Args); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		exit(cli.db, 1)
	}
}

// exit closes the database before leaving, deferred calls do not run on os.Exit.
func exit(db *sql.DB, code int) {
	if db != nil {
		_ = db.Close()
	}
	os.Exit(code)
}
