// Package probe holds the plumbing shared by the per-platform probers:
// rotating client identities, randomized pre-request pacing, retry with
// backoff, per-platform rate limiting, the colly-backed HTTP fetcher, and
// short-link resolution.
//
// Platform specific probers live in the grabfood and foodpanda subpackages.
package probe
