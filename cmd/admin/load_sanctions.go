package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/quarklabs/chainrisk/internal/core/domain"
	redisclient "github.com/quarklabs/chainrisk/internal/infra/redis"
)

type sanctionEntry struct {
	Chain         string    `json:"chain"`
	Address       string    `json:"address"`
	ListName      string    `json:"list_name"`
	EffectiveDate time.Time `json:"effective_date"`
	Removed       bool      `json:"removed,omitempty"`
}

func main() {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}

	client, err := redisclient.NewClient(redisclient.Config{URL: redisURL})
	if err != nil {
		panic(err)
	}
	defer client.Close()

	content, err := os.ReadFile("scripts/sanctions.json")
	if err != nil {
		panic(err)
	}

	var entries []sanctionEntry
	if err := json.Unmarshal(content, &entries); err != nil {
		panic(err)
	}

	ctx := context.Background()
	loaded, removed := 0, 0
	for _, e := range entries {
		chainID := domain.ChainID(e.Chain)
		if e.Removed {
			if err := client.RemoveListing(ctx, chainID, e.Address); err != nil {
				panic(err)
			}
			removed++
			continue
		}
		if err := client.AddListing(ctx, chainID, e.Address, e.ListName, e.EffectiveDate); err != nil {
			panic(err)
		}
		loaded++
	}

	fmt.Printf("Successfully mirrored sanctions from scripts/sanctions.json (%d listed, %d removed)\n", loaded, removed)
}
