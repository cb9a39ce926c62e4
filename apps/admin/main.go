package main

import (
	"context"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/trezcool/masomo-lifecycle/core"
	"github.com/trezcool/masomo-lifecycle/core/lifecycle"
	emailsvc "github.com/trezcool/masomo-lifecycle/services/email"
	logsvc "github.com/trezcool/masomo-lifecycle/services/logger"
	"github.com/trezcool/masomo-lifecycle/services/metrics"
	"github.com/trezcool/masomo-lifecycle/services/notify"
	"github.com/trezcool/masomo-lifecycle/storage/database"
	"github.com/trezcool/masomo-lifecycle/storage/database/sqlx"
)

func main() {
	conf, err := core.NewConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	logger := logsvc.New(conf)

	cli := commandLine{
		conf:   conf,
		logger: logger,
		in:     os.Stdin,
		inFd:   int(os.Stdin.Fd()),
		out:    os.Stdout,
		clock:  time.Now,
	}

	mailer := emailsvc.New(conf, logger)

	// createdb runs before the app database exists
	if len(os.Args) < 2 || os.Args[1] != "createdb" {
		db, err := database.Open(context.Background(), conf)
		if err != nil {
			logger.Fatal("opening database", err)
		}
		defer db.Close()

		bus := lifecycle.NewEventBus(logger)
		notify.NewDispatcher(mailer, conf, logger).Subscribe(bus)
		cli.metrics = metrics.NewRecorder()
		cli.metrics.Subscribe(bus)

		cli.db = db
		cli.engine = lifecycle.NewEngine(lifecycle.Options{
			Store:  sqlxrepos.NewStore(db),
			Logger: logger,
			Bus:    bus,
			Config: conf.Lifecycle,
		})
	}

	err = cli.run(os.Args)
	if w, ok := mailer.(interface{ Wait() }); ok {
		w.Wait() // notifications of the run
	}
	if err != nil {
		if err != errHelp {
			logger.Error("admin command failed", err, map[string]interface{}{"args": os.Args[1:]})
			_, _ = fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}
