package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/go-resty/resty/v2"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
	"ngmc-chatbot-go/internal/config"
	"ngmc-chatbot-go/pkg/log"
)

// Target is one page to scrape and the category its links are stored under.
type Target struct {
	Category  string
	URL       string
	Extractor Extractor
}

// DefaultTargets are the college pages that feed links.txt.
var DefaultTargets = []Target{
	{Category: "exam_schedule", URL: "https://coe.ngmc.ac.in/exam-schedule/", Extractor: PDFLinkExtractor{}},
	{Category: "fee_structure", URL: "https://www.ngmc.org/admissions/fee-structure/", Extractor: PDFLinkExtractor{}},
	{Category: "seating_arrangements", URL: "https://coe.ngmc.ac.in/seating-arrangements/", Extractor: AnchorTextExtractor{Match: "open"}},
	{Category: "syllabus", URL: "https://www.ngmc.org/syllabus-list-2/", Extractor: AnchorTextExtractor{Match: "open", NameFromHeading: true}},
}

// Links maps category -> name -> URL.
type Links map[string]map[string]string

// ArtifactStore receives copies of the written files.
type ArtifactStore interface {
	Put(ctx context.Context, name string, data []byte, contentType string) error
}

// Scraper fetches the targets and writes the JSON and text outputs.
type Scraper struct {
	client    *resty.Client
	targets   []Target
	cfg       config.ScraperConfig
	artifacts ArtifactStore
}

// New creates a Scraper. artifacts may be nil.
func New(cfg config.ScraperConfig, targets []Target, artifacts ArtifactStore) *Scraper {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent)
	return &Scraper{client: client, targets: targets, cfg: cfg, artifacts: artifacts}
}

// Scrape fetches every target concurrently. The first failing page aborts the run.
func (s *Scraper) Scrape(ctx context.Context) (Links, error) {
	results := make([]map[string]string, len(s.targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range s.targets {
		i, t := i, t
		g.Go(func() error {
			links, err := s.scrapePage(gctx, t)
			if err != nil {
				return fmt.Errorf("scrape %s: %w", t.Category, err)
			}
			results[i] = links
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	all := make(Links, len(s.targets))
	for i, t := range s.targets {
		all[t.Category] = results[i]
	}
	return all, nil
}

func (s *Scraper) scrapePage(ctx context.Context, t Target) (map[string]string, error) {
	base, err := url.Parse(t.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	resp, err := s.client.R().SetContext(ctx).Get(t.URL)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode(), t.URL)
	}
	doc, err := html.Parse(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return t.Extractor.Extract(doc, base), nil
}

// Run scrapes, writes the JSON document and its flattened text next to it, and mirrors
// both to the artifact store when one is configured.
func (s *Scraper) Run(ctx context.Context) (Links, error) {
	links, err := s.Scrape(ctx)
	if err != nil {
		return nil, err
	}

	doc, err := Encode(links)
	if err != nil {
		return nil, err
	}
	flat := []byte(Flatten(doc))

	if err := os.MkdirAll(s.cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.cfg.OutputDir, s.cfg.JSONFile), doc, 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", s.cfg.JSONFile, err)
	}
	if err := os.WriteFile(filepath.Join(s.cfg.OutputDir, s.cfg.TextFile), flat, 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", s.cfg.TextFile, err)
	}

	counts := make([]interface{}, 0, 2*len(links))
	for _, t := range s.targets {
		counts = append(counts, t.Category, len(links[t.Category]))
	}
	log.Infow("scraped college links", counts...)

	if s.artifacts != nil {
		if err := s.artifacts.Put(ctx, s.cfg.JSONFile, doc, "application/json"); err != nil {
			return nil, fmt.Errorf("mirror %s: %w", s.cfg.JSONFile, err)
		}
		if err := s.artifacts.Put(ctx, s.cfg.TextFile, flat, "text/plain; charset=utf-8"); err != nil {
			return nil, fmt.Errorf("mirror %s: %w", s.cfg.TextFile, err)
		}
	}
	return links, nil
}

// Encode renders links with four-space indentation and without HTML escaping.
func Encode(links Links) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(links); err != nil {
		return nil, fmt.Errorf("encode links: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
