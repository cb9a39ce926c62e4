package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strconv"

	"github.com/trezcool/goose"

	"github.com/trezcool/masomo-lifecycle/fs"
	"github.com/trezcool/masomo-lifecycle/storage/database"
)

type (
	gooseFunc        func(db *sql.DB, fsys fs.FS, dir string) error
	gooseVersionFunc func(db *sql.DB, fsys fs.FS, dir string, version int64) error
)

// mockable
var (
	gooseCommands = map[string]gooseFunc{
		"up":        goose.Up,
		"up-by-one": goose.UpByOne,
		"down":      goose.Down,
		"redo":      goose.Redo,
	}
	gooseVersionCommands = map[string]gooseVersionFunc{
		"up-to":   goose.UpTo,
		"down-to": goose.DownTo,
	}
	createDBFunc = database.CreateIfNotExist
)

func (cli *commandLine) migrate(args []string) error {
	command := args[0]
	if fn, ok := gooseCommands[command]; ok {
		return fn(cli.db, appfs.FS, database.MigrationsDir)
	}

	fn, ok := gooseVersionCommands[command]
	if !ok {
		return fmt.Errorf("%q: no such command", command)
	}
	if len(args) < 2 {
		return fmt.Errorf("%s must be of form: admin migrate %s VERSION", command, command)
	}
	version, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("version must be a number (got '%s')", args[1])
	}
	return fn(cli.db, appfs.FS, database.MigrationsDir, version)
}

func (cli *commandLine) createDB(ctx context.Context) error {
	if err := createDBFunc(ctx, cli.conf); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cli.out, "database %q is ready\n", cli.conf.Database.Name)
	return nil
}
