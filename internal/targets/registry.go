// Package targets loads and validates the list of monitored storefronts.
//
// The source is a plain list of absolute URLs, either one per line (blank
// lines and # comments ignored) or a YAML sequence, optionally nested under a
// "targets" key. The platform of every target is inferred from its host.
// Short links are resolved through the injected Resolver and must land on a
// host of the platform that owns the short-link domain.
package targets

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/storewatch/internal/id/uuid"
	"github.com/JakeFAU/storewatch/internal/monitor"
)

// HostRule maps storefront and short-link hosts to a platform. A host matches
// when it equals an entry or is a subdomain of it.
type HostRule struct {
	Platform       monitor.Platform `mapstructure:"platform"`
	Hosts          []string         `mapstructure:"hosts"`
	ShortLinkHosts []string         `mapstructure:"short_link_hosts"`
}

// DefaultHostRules returns the built-in host table.
func DefaultHostRules() []HostRule {
	return []HostRule{
		{
			Platform:       monitor.PlatformGrabFood,
			Hosts:          []string{"food.grab.com"},
			ShortLinkHosts: []string{"r.grab.com", "grab.onelink.me"},
		},
		{
			Platform: monitor.PlatformFoodpanda,
			Hosts: []string{
				"foodpanda.ph",
				"foodpanda.sg",
				"foodpanda.my",
				"foodpanda.co.th",
				"foodpanda.com.tw",
				"foodpanda.hk",
			},
			ShortLinkHosts: []string{"fdpn.link", "foodpanda.page.link"},
		},
	}
}

// identifierSegment matches merchant ids and short vendor codes in paths.
var identifierSegment = regexp.MustCompile(`^(\d+-[A-Za-z0-9]+|[a-z0-9]{0,6}\d[a-z0-9]{0,6})$`)

// Resolver follows a short link to its final storefront URL.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string) (string, error)
}

// Format selects how a target source is parsed.
type Format int

// Supported source formats.
const (
	FormatLines Format = iota
	FormatYAML
)

// Registry turns a target source into validated Targets.
type Registry struct {
	rules    []HostRule
	resolver Resolver
	logger   *zap.Logger
}

// New constructs a Registry. A nil resolver rejects every short link.
func New(rules []HostRule, resolver Resolver, logger *zap.Logger) *Registry {
	if len(rules) == 0 {
		rules = DefaultHostRules()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{rules: rules, resolver: resolver, logger: logger}
}

type entry struct {
	line int
	raw  string
}

// LoadFile reads targets from path; the format follows the file extension.
func (r *Registry) LoadFile(ctx context.Context, path string) ([]monitor.Target, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, &monitor.ConfigError{Source: path, Reason: fmt.Sprintf("read targets: %v", err)}
	}
	format := FormatLines
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = FormatYAML
	}
	return r.Load(ctx, path, data, format)
}

// Load parses and validates a target source. Duplicates after normalization
// are rejected so the operator fixes the source instead of relying on dedupe.
func (r *Registry) Load(ctx context.Context, source string, data []byte, format Format) ([]monitor.Target, error) {
	var (
		entries []entry
		err     error
	)
	switch format {
	case FormatYAML:
		entries, err = parseYAML(source, data)
	default:
		entries, err = parseLines(source, data)
	}
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, &monitor.ConfigError{Source: source, Reason: "no targets defined"}
	}

	seen := make(map[string]int, len(entries))
	targets := make([]monitor.Target, 0, len(entries))
	for _, e := range entries {
		target, err := r.buildTarget(ctx, source, e)
		if err != nil {
			return nil, err
		}
		if first, dup := seen[target.URL]; dup {
			return nil, &monitor.ConfigError{
				Source: source,
				Line:   e.line,
				URL:    e.raw,
				Reason: fmt.Sprintf("duplicate of line %d (%s)", first, target.URL),
			}
		}
		seen[target.URL] = e.line
		targets = append(targets, target)
	}
	r.logger.Info("targets loaded", zap.String("source", source), zap.Int("count", len(targets)))
	return targets, nil
}

func (r *Registry) buildTarget(ctx context.Context, source string, e entry) (monitor.Target, error) {
	fail := func(reason string) error {
		return &monitor.ConfigError{Source: source, Line: e.line, URL: e.raw, Reason: reason}
	}
	normalized, err := NormalizeURL(e.raw)
	if err != nil {
		return monitor.Target{}, fail(err.Error())
	}
	platform, short := r.InferPlatform(normalized)
	if !platform.Valid() {
		return monitor.Target{}, fail("cannot infer platform from host")
	}
	if short {
		normalized, err = r.resolveShortLink(ctx, normalized, platform)
		if err != nil {
			return monitor.Target{}, fail(err.Error())
		}
	}
	return monitor.Target{
		ID:          uuid.TargetID(normalized),
		DisplayName: DisplayName(normalized),
		URL:         normalized,
		Platform:    platform,
	}, nil
}

func (r *Registry) resolveShortLink(ctx context.Context, link string, want monitor.Platform) (string, error) {
	if r.resolver == nil {
		return "", fmt.Errorf("short link %s needs a resolver", link)
	}
	resolved, err := r.resolver.Resolve(ctx, link)
	if err != nil {
		return "", fmt.Errorf("resolve short link: %w", err)
	}
	normalized, err := NormalizeURL(resolved)
	if err != nil {
		return "", fmt.Errorf("short link resolved to invalid url: %w", err)
	}
	platform, short := r.InferPlatform(normalized)
	if short || platform != want {
		return "", fmt.Errorf("short link resolved to %s which is not a %s storefront", normalized, want)
	}
	r.logger.Debug("short link resolved", zap.String("link", link), zap.String("url", normalized))
	return normalized, nil
}

// InferPlatform derives the platform from the URL host. The second return
// value reports whether the host is a short-link redirector.
func (r *Registry) InferPlatform(rawURL string) (monitor.Platform, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	for _, rule := range r.rules {
		if hostMatches(host, rule.Hosts) {
			return rule.Platform, false
		}
		if hostMatches(host, rule.ShortLinkHosts) {
			return rule.Platform, true
		}
	}
	return "", false
}

func hostMatches(host string, candidates []string) bool {
	for _, c := range candidates {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if host == c || strings.HasSuffix(host, "."+c) {
			return true
		}
	}
	return false
}

// NormalizeURL canonicalizes a storefront URL: absolute http(s) only, host
// lowercased, query, fragment and trailing slash stripped.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("url must be absolute http(s)")
	}
	if u.Host == "" {
		return "", fmt.Errorf("url has no host")
	}
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String(), nil
}

// DisplayName derives a human readable name from the storefront slug.
func DisplayName(normalizedURL string) string {
	u, err := url.Parse(normalizedURL)
	if err != nil {
		return normalizedURL
	}
	best := ""
	for _, seg := range strings.Split(u.Path, "/") {
		if seg == "" || seg == "restaurant" || seg == "shop" || len(seg) <= 2 || identifierSegment.MatchString(seg) {
			continue
		}
		if strings.Count(seg, "-") >= strings.Count(best, "-") {
			best = seg
		}
	}
	if best == "" {
		return u.Host
	}
	return strings.Join(strings.Fields(strings.ReplaceAll(best, "-", " ")), " ")
}

func parseLines(source string, data []byte) ([]entry, error) {
	var entries []entry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		entries = append(entries, entry{line: line, raw: text})
	}
	if err := scanner.Err(); err != nil {
		return nil, &monitor.ConfigError{Source: source, Line: line + 1, Reason: fmt.Sprintf("scan targets: %v", err)}
	}
	return entries, nil
}

func parseYAML(source string, data []byte) ([]entry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &monitor.ConfigError{Source: source, Reason: fmt.Sprintf("malformed yaml: %v", err)}
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	seq := doc.Content[0]
	if seq.Kind == yaml.MappingNode {
		seq = nil
		root := doc.Content[0]
		for i := 0; i+1 < len(root.Content); i += 2 {
			if root.Content[i].Value == "targets" {
				seq = root.Content[i+1]
				break
			}
		}
		if seq == nil {
			return nil, &monitor.ConfigError{Source: source, Reason: `yaml mapping has no "targets" key`}
		}
	}
	if seq.Kind != yaml.SequenceNode {
		return nil, &monitor.ConfigError{Source: source, Line: seq.Line, Reason: "targets must be a list of urls"}
	}
	entries := make([]entry, 0, len(seq.Content))
	for _, item := range seq.Content {
		if item.Kind != yaml.ScalarNode {
			return nil, &monitor.ConfigError{Source: source, Line: item.Line, Reason: "target must be a url string"}
		}
		entries = append(entries, entry{line: item.Line, raw: item.Value})
	}
	return entries, nil
}
