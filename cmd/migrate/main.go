package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/ignite/campaign-engine/internal/repository/postgres"
)

// migrate creates the document and suppression tables. --list prints their row
// counts instead.
func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}
	listOnly := len(os.Args) > 1 && os.Args[1] == "--list"

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("ping: %v", err)
	}
	log.Println("Connected to database")

	if listOnly {
		rows, err := db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM engine_documents GROUP BY kind ORDER BY kind`)
		if err != nil {
			log.Fatal(err)
		}
		defer rows.Close()
		for rows.Next() {
			var kind string
			var n int
			if err := rows.Scan(&kind, &n); err != nil {
				log.Fatal(err)
			}
			fmt.Printf("  %-20s %d\n", kind, n)
		}
		if err := rows.Err(); err != nil {
			log.Fatal(err)
		}
		return
	}

	if err := postgres.NewDocumentRepo(db).Migrate(ctx); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	if err := postgres.NewSuppressionRepo(db).Migrate(ctx); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Println("Migrations complete")
}
