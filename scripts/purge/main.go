// Command purge deletes a dealer conversation and everything attached to it:
// the thread, its messages, the car listing, and any scheduled visits. Used
// when re-testing a number against a live database.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	appconfig "github.com/carscout/carscout-ai/internal/config"
	"github.com/carscout/carscout-ai/internal/messaging"
	"github.com/carscout/carscout-ai/internal/store"
	"github.com/carscout/carscout-ai/pkg/logging"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run scripts/purge/main.go <phone>")
		fmt.Println("Example: go run scripts/purge/main.go +15551234567")
		os.Exit(1)
	}

	phone, err := messaging.NormalizeE164(os.Args[1])
	if err != nil {
		fmt.Printf("Invalid phone number %q: %v\n", os.Args[1], err)
		os.Exit(1)
	}

	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := store.Connect(ctx, cfg.MongoURI, logger)
	if err != nil {
		fmt.Printf("Error connecting to MongoDB: %v\n", err)
		os.Exit(1)
	}
	defer st.Close(context.Background())

	if err := st.PurgeThread(ctx, phone); err != nil {
		fmt.Printf("Error purging %s: %v\n", phone, err)
		os.Exit(1)
	}
	fmt.Printf("Purged all data for %s\n", phone)
}
