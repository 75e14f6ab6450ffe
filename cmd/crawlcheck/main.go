// crawlcheck fetches and prints the rendered discussion context for one
// location, exactly as a chat turn would see it. Useful for tuning ranking
// and for checking discovery API credentials.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lucav88/ava/internal/config"
	"github.com/lucav88/ava/internal/crawl"
)

func main() {
	query := flag.String("query", "", "optional free-text query to bias ranking")
	timeout := flag.Duration("timeout", 90*time.Second, "overall fetch timeout")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: crawlcheck [flags] <location>\nsupported locations: %s\n", strings.Join(crawl.Supported(), ", "))
		os.Exit(2)
	}
	location := flag.Arg(0)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	client := crawl.NewClient(crawl.Config{
		BaseURL:   cfg.DiscoveryBaseURL,
		APIKey:    cfg.DiscoveryAPIKey,
		DatasetID: cfg.DiscoveryDatasetID,
	}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	fmt.Println(client.Fetch(ctx, location, *query))
}
