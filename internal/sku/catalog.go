// Package sku matches the products a storefront lists against the master
// catalog and computes per-store compliance.
package sku

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/storewatch/internal/monitor"
)

// Catalog is the read-only master product list.
type Catalog struct {
	entries []monitor.ProductCatalogEntry
}

type catalogFile struct {
	Products []monitor.ProductCatalogEntry `yaml:"products"`
}

// NewCatalog validates entries and builds a catalog. An entry without a
// platform applies to every platform.
func NewCatalog(entries []monitor.ProductCatalogEntry) (*Catalog, error) {
	seen := make(map[string]bool, len(entries))
	out := make([]monitor.ProductCatalogEntry, 0, len(entries))
	for i, e := range entries {
		e.SKUCode = strings.TrimSpace(e.SKUCode)
		e.CanonicalName = strings.TrimSpace(e.CanonicalName)
		switch {
		case e.SKUCode == "":
			return nil, fmt.Errorf("catalog entry %d: sku is required", i+1)
		case e.CanonicalName == "":
			return nil, fmt.Errorf("catalog entry %d (%s): name is required", i+1, e.SKUCode)
		case e.Platform != "" && !e.Platform.Valid():
			return nil, fmt.Errorf("catalog entry %d (%s): unknown platform %q", i+1, e.SKUCode, e.Platform)
		}
		key := string(e.Platform) + "|" + e.SKUCode
		if seen[key] {
			return nil, fmt.Errorf("catalog entry %d: duplicate sku %s", i+1, e.SKUCode)
		}
		seen[key] = true
		out = append(out, e)
	}
	return &Catalog{entries: out}, nil
}

// ParseCatalog reads YAML: either a top-level list or a "products" key.
func ParseCatalog(data []byte) (*Catalog, error) {
	var list []monitor.ProductCatalogEntry
	if err := yaml.Unmarshal(data, &list); err != nil {
		var file catalogFile
		if err2 := yaml.Unmarshal(data, &file); err2 != nil {
			return nil, fmt.Errorf("parse catalog: %w", err2)
		}
		list = file.Products
	}
	return NewCatalog(list)
}

// LoadCatalog reads a catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	c, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// ForPlatform returns the entries expected on a platform in file order.
func (c *Catalog) ForPlatform(p monitor.Platform) []monitor.ProductCatalogEntry {
	if c == nil {
		return nil
	}
	var out []monitor.ProductCatalogEntry
	for _, e := range c.entries {
		if e.Platform == "" || e.Platform == p {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}
