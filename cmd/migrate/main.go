package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/pflag"

	"sanamind.org/internal/migrate"
)

func main() {
	log.SetFlags(0)
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	var (
		dsn            string
		migrationsPath string
		seedsPath      string
		timeout        time.Duration
	)
	flags := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	flags.StringVar(&dsn, "dsn", os.Getenv("SANAMIND_PG_DSN"), "PostgreSQL DSN")
	flags.StringVar(&migrationsPath, "migrations", "", "directory of SQL migrations (default: embedded schema)")
	flags.StringVar(&seedsPath, "seeds", "", "directory of SQL seeds (default: embedded dev seeds)")
	flags.DurationVar(&timeout, "timeout", 30*time.Second, "overall deadline")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: migrate [flags] up|down|seed|status\n\n%s", flags.FlagUsages())
	}
	if err := flags.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	if dsn == "" {
		return fmt.Errorf("missing DSN: provide via --dsn or SANAMIND_PG_DSN")
	}
	if flags.NArg() != 1 {
		flags.Usage()
		return fmt.Errorf("expected exactly one command")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, source(migrationsPath, migrate.Migrations()), source(seedsPath, migrate.Seeds()))

	cmd := flags.Arg(0)
	switch cmd {
	case "up":
		applied, err := mgr.Up(ctx)
		printAll("applied", applied)
		if err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
	case "down":
		name, err := mgr.Down(ctx)
		if err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		fmt.Println("rolled back", name)
	case "seed":
		applied, err := mgr.Seed(ctx)
		printAll("seeded", applied)
		if err != nil {
			return fmt.Errorf("migrate seed: %w", err)
		}
	case "status":
		history, err := mgr.Status(ctx)
		if err != nil {
			return fmt.Errorf("migrate status: %w", err)
		}
		for _, item := range history {
			fmt.Println(item)
		}
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func source(dir string, embedded fs.FS) fs.FS {
	if dir == "" {
		return embedded
	}
	return os.DirFS(dir)
}

func printAll(verb string, names []string) {
	if len(names) == 0 {
		fmt.Println("nothing to apply")
		return
	}
	for _, n := range names {
		fmt.Println(verb, n)
	}
}
