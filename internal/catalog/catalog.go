// Package catalog manages appliance power ratings. Ratings come from three
// layers: built-in defaults, rows persisted in storage, and datasheet PDFs
// imported by the operator. Storage rows win over defaults; the merged view
// feeds the sizing engine.
package catalog

import (
	"bufio"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/solarsync/solarsync/internal/storage"
)

// Store is the subset of the storage layer the catalog needs.
type Store interface {
	UpsertCatalogEntry(e storage.CatalogEntry) error
	ListCatalog() (map[string]float64, error)
}

// Catalog resolves appliance names to rated wattages.
type Catalog struct {
	store Store
}

// New creates a Catalog backed by the given store.
func New(store Store) *Catalog {
	return &Catalog{store: store}
}

// Ratings returns the persisted rating overrides keyed by lowercased
// appliance name, suitable for sizing.NewEngine.
func (c *Catalog) Ratings() (map[string]float64, error) {
	ratings, err := c.store.ListCatalog()
	if err != nil {
		return nil, fmt.Errorf("listing catalog: %w", err)
	}
	return ratings, nil
}

// Set stores a single rating override.
func (c *Catalog) Set(name string, powerW float64) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return fmt.Errorf("appliance name is required")
	}
	if powerW <= 0 {
		return fmt.Errorf("power rating must be positive, got %v", powerW)
	}
	return c.store.UpsertCatalogEntry(storage.CatalogEntry{Name: name, PowerW: powerW})
}

// Rating lines in datasheets look like "Chest Freezer 350W" or
// "deep_freezer: 350 w". The trailing number with a watt marker is the
// rating.
var ratingLine = regexp.MustCompile(`(?i)^\s*([a-z][a-z0-9 _/-]*?)[:\s]+(\d+(?:\.\d+)?)\s*w(?:atts?)?\s*$`)

// ImportPDF extracts appliance ratings from a datasheet PDF and stores each
// one, returning the number of ratings imported.
func (c *Catalog) ImportPDF(path string) (int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	text, err := r.GetPlainText()
	if err != nil {
		return 0, fmt.Errorf("extracting text from %s: %w", path, err)
	}

	imported := 0
	scanner := bufio.NewScanner(text)
	for scanner.Scan() {
		name, watts, ok := parseRatingLine(scanner.Text())
		if !ok {
			continue
		}
		if err := c.Set(name, watts); err != nil {
			return imported, err
		}
		slog.Debug("catalog: imported rating", "appliance", name, "watts", watts)
		imported++
	}
	if err := scanner.Err(); err != nil {
		return imported, fmt.Errorf("reading extracted text: %w", err)
	}
	return imported, nil
}

func parseRatingLine(line string) (name string, watts float64, ok bool) {
	m := ratingLine.FindStringSubmatch(line)
	if m == nil {
		return "", 0, false
	}
	watts, err := strconv.ParseFloat(m[2], 64)
	if err != nil || watts <= 0 {
		return "", 0, false
	}
	name = strings.ToLower(strings.TrimSpace(m[1]))
	name = strings.ReplaceAll(name, " ", "_")
	return name, watts, true
}
