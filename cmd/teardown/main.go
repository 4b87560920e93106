// Command teardown removes the gateway's database objects. It is the
// uninstall step: run it only when the payment history is no longer needed.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/joho/godotenv"

	appconfig "github.com/mvpay/bml-connect/internal/config"
	"github.com/mvpay/bml-connect/internal/storage/postgres"
)

func main() {
	yes := flag.Bool("yes", false, "confirm dropping all gateway tables")
	flag.Parse()

	if !*yes {
		log.Fatal("refusing to drop tables without -yes. This deletes all transaction history.")
	}

	_ = godotenv.Load()

	cfg, err := appconfig.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := postgres.Open(cfg.Database)
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := postgres.NewTransactionStore(db).Drop(ctx); err != nil {
		log.Fatalf("drop transactions: %v", err)
	}
	if err := postgres.NewOrderStore(db).Drop(ctx); err != nil {
		log.Fatalf("drop orders: %v", err)
	}

	log.Println("gateway tables dropped")
}
