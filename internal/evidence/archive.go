// Package evidence keeps raw snapshots of the pages behind classifications
// that a human has to review, so the reviewer sees exactly what the probe saw.
package evidence

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/JakeFAU/storewatch/internal/monitor"
)

// Archive writes probe bodies to a BlobStore under a deterministic path.
type Archive struct {
	blobs  monitor.BlobStore
	hasher monitor.Hasher
	prefix string
}

// NewArchive builds an archive. prefix is prepended to every object path.
func NewArchive(blobs monitor.BlobStore, hasher monitor.Hasher, prefix string) *Archive {
	return &Archive{blobs: blobs, hasher: hasher, prefix: strings.Trim(prefix, "/")}
}

// Path returns the object path for a snapshot:
// [prefix/]YYYY/MM/DD/<target>/<status>-<hhmmss>-<digest>.<ext>.
func (a *Archive) Path(cls monitor.Classification, body []byte) (string, error) {
	digest, err := a.hasher.Hash(body)
	if err != nil {
		return "", fmt.Errorf("hash evidence: %w", err)
	}
	if len(digest) > 12 {
		digest = digest[:12]
	}
	ts := cls.CheckedAt.UTC()
	name := fmt.Sprintf("%s/%s/%s-%s-%s.%s",
		ts.Format("2006/01/02"),
		cls.TargetID,
		strings.ToLower(string(cls.Status)),
		ts.Format("150405"),
		digest,
		extension(body))
	if a.prefix != "" {
		name = a.prefix + "/" + name
	}
	return name, nil
}

// Save stores body and returns its URI. Empty bodies are not stored.
func (a *Archive) Save(ctx context.Context, cls monitor.Classification, body []byte) (string, error) {
	if a == nil || a.blobs == nil || len(body) == 0 {
		return "", nil
	}
	path, err := a.Path(cls, body)
	if err != nil {
		return "", err
	}
	uri, err := a.blobs.PutObject(ctx, path, http.DetectContentType(body), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("store evidence %s: %w", path, err)
	}
	return uri, nil
}

func extension(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	switch {
	case len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '['):
		return "json"
	case strings.HasPrefix(http.DetectContentType(body), "text/html"):
		return "html"
	default:
		return "txt"
	}
}
