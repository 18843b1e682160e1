package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/quarklabs/chainrisk/internal/core/domain"
	"github.com/quarklabs/chainrisk/internal/source"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found")
	}

	PRIMARY_URL := os.Getenv("ETH_GATEWAY_URL")
	SECONDARY_URL := os.Getenv("ETH_GATEWAY_FALLBACK_URL")
	if PRIMARY_URL == "" {
		log.Fatalf("ETH_GATEWAY_URL is not set")
	}
	if SECONDARY_URL == "" {
		log.Fatalf("ETH_GATEWAY_FALLBACK_URL is not set")
	}

	ctx := context.Background()

	// 1. Create node sources
	primary := source.NewHTTPNodeSource(domain.ChainIDEthereum, "primary", PRIMARY_URL, 10, source.DefaultPolicy)
	secondary := source.NewHTTPNodeSource(domain.ChainIDEthereum, "secondary", SECONDARY_URL, 10, source.DefaultPolicy)

	// 2. Wrap in failover so a dead primary rolls over
	src := source.NewFailover(domain.ChainIDEthereum, primary, secondary)

	fmt.Println("=== Node source smoke check ===")

	// 3. Health probes
	for _, s := range []source.NodeSource{primary, secondary} {
		probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := s.Health(probeCtx); err != nil {
			fmt.Printf("%s: DOWN (%v)\n", s.Name(), err)
		} else {
			fmt.Printf("%s: OK\n", s.Name())
		}
		cancel()
	}

	// 4. Fetch a known transaction through the failover path
	txHash := os.Getenv("SMOKE_TX_HASH")
	if txHash == "" {
		fmt.Println("SMOKE_TX_HASH not set, skipping fetch")
		return
	}

	for i := 0; i < 5; i++ {
		fetchCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		raw, err := src.FetchRawTransaction(fetchCtx, txHash)
		cancel()
		if err != nil {
			log.Printf("Fetch %d failed: %v", i+1, err)
			continue
		}
		fmt.Printf("Fetch %d: %d bytes\n", i+1, len(raw))

		time.Sleep(100 * time.Millisecond)
	}
}
