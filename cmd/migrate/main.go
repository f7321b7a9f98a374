package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"vaultauth/internal/audit"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

var (
	openDB    = sql.Open
	migrateUp = audit.Migrate
)

func run(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dsn := fs.String("dsn", os.Getenv("VAULTAUTH_AUDIT_DSN"), "postgres DSN (default $VAULTAUTH_AUDIT_DSN)")
	dir := fs.String("dir", "", "migrations dir on disk; embedded audit migrations when empty")
	action := fs.String("action", "", "up/down/status/version/redo")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*dsn) == "" {
		return errors.New("dsn required")
	}
	if strings.TrimSpace(*action) == "" {
		return errors.New("action required")
	}
	switch *action {
	case "up", "down", "status", "version", "redo":
	default:
		return fmt.Errorf("unknown action %q", *action)
	}

	embedded := strings.TrimSpace(*dir) == ""

	db, err := openDB("postgres", *dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	if embedded && *action == "up" {
		return migrateUp(context.Background(), db)
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if embedded {
		goose.SetBaseFS(audit.MigrationsFS)
		*dir = audit.MigrationsDir
	}

	switch *action {
	case "up":
		return goose.Up(db, *dir)
	case "down":
		return goose.Down(db, *dir)
	case "status":
		return goose.Status(db, *dir)
	case "version":
		v, err := goose.GetDBVersion(db)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "version %d\n", v)
		return nil
	default:
		return goose.Redo(db, *dir)
	}
}
