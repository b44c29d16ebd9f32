package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"wildwatch.app/internal/migrate"
	"wildwatch.app/internal/store/sqlkv"
)

func main() {
	log.SetFlags(0)
	var (
		driver = flag.String("driver", "", "postgres or sqlite (default: postgres when WILDWATCH_PG_DSN is set)")
		dsn    = flag.String("dsn", "", "database DSN or SQLite file path")
		table  = flag.String("table", "", "bookkeeping table (default schema_migrations)")
	)
	flag.Parse()

	if *dsn == "" {
		if pg := os.Getenv("WILDWATCH_PG_DSN"); pg != "" {
			*dsn = pg
			if *driver == "" {
				*driver = "postgres"
			}
		} else if path := os.Getenv("WILDWATCH_SQLITE_PATH"); path != "" {
			*dsn = path
			if *driver == "" {
				*driver = "sqlite"
			}
		}
	}
	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn, WILDWATCH_PG_DSN or WILDWATCH_SQLITE_PATH")
	}
	if *driver == "" {
		*driver = "postgres"
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [-driver postgres|sqlite] [-dsn DSN] up|down|status")
	}

	dialect, err := migrate.ParseDialect(*driver)
	if err != nil {
		log.Fatal(err)
	}
	target := *dsn
	if dialect == migrate.SQLite {
		target = sqlkv.SQLiteDSN(*dsn)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := sqlkv.Open(dialect, target)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer st.Close()

	mgr := migrate.NewManager(st.DB(), dialect, migrate.WithMigrationsTable(*table))

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "status":
		var plan []migrate.Migration
		plan, err = mgr.Status(ctx)
		for _, mig := range plan {
			fmt.Println(mig)
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}
