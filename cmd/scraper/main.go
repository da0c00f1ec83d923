// Command scraper refreshes the college links files without starting the API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"ngmc-chatbot-go/internal/config"
	"ngmc-chatbot-go/internal/scraper"
	"ngmc-chatbot-go/pkg/log"
	"ngmc-chatbot-go/pkg/storage"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "path to the YAML config file")
	outputDir := flag.String("out", "", "output directory, overrides scraper.output_dir")
	flag.Parse()

	path := *configPath
	if _, err := os.Stat(path); err != nil {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *outputDir != "" {
		cfg.Scraper.OutputDir = *outputDir
	}

	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var minioStore *storage.MinIOStore
	var artifacts scraper.ArtifactStore
	if cfg.MinIO.Endpoint != "" {
		minioStore, err = storage.NewMinIOStore(ctx, cfg.MinIO)
		if err != nil {
			log.Fatal("failed to initialize MinIO", err)
		}
		artifacts = minioStore
	}

	links, err := scraper.New(cfg.Scraper, scraper.DefaultTargets, artifacts).Run(ctx)
	if err != nil {
		log.Fatal("scrape failed", err)
	}
	for _, t := range scraper.DefaultTargets {
		fmt.Printf("%-22s %d links\n", t.Category, len(links[t.Category]))
	}

	if minioStore != nil {
		u, err := minioStore.PresignedURL(ctx, cfg.Scraper.JSONFile, 24*time.Hour)
		if err != nil {
			log.Error("failed to presign the links document", err)
			return
		}
		fmt.Printf("links document: %s\n", u)
	}
}
