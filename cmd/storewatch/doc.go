// Package main hosts the storewatch service entrypoint.
//
// Architecture overview:
//   - Targets: the registry loads storefront URLs from a line or YAML file, infers the platform from the host,
//     resolves short links through a cached redirect resolver and rejects duplicates after normalization.
//   - Cycles: internal/scheduler probes every target whose circuit is not open with a bounded errgroup. Each target
//     gets its own deadline (probe timeout times attempts plus slack), so a hung storefront cannot stall the cycle.
//   - Probing: GrabFood merchants are read from the JSON data endpoint; Foodpanda storefronts are fetched plainly or
//     rendered in Chrome when render.enabled is set. Both share pacing, per-platform rate limits, rotating
//     identities and bounded retries from internal/probe.
//   - Verdicts: internal/detect flags rate limiting and challenge pages, internal/classify turns the rest into
//     ONLINE/OFFLINE/CLOSED/TERMINATED/UNKNOWN with confidence and evidence. BLOCKED/UNKNOWN/ERROR snapshots are
//     archived (memory/local/GCS) for the review queue.
//   - Persistence & fanout: observations, cycle summaries and SKU compliance land in Postgres (or memory when no
//     DSN is set). Problem targets and cycle health are logged and, with notify.backend=pubsub, published.
//   - Operators: /v1/review lists targets needing a human, POST /v1/targets/{id}/override records the verdict,
//     /v1/targets and /v1/cycles/last expose fleet state, /metrics serves Prometheus collectors.
//   - Tracing: telemetry.enabled exports one span per target check to Cloud Trace; trace context rides along on
//     published notifications.
//
// Quick checklist:
//   - Configure env vars: STOREWATCH_SERVER_PORT, STOREWATCH_MONITOR_TARGETS_FILE, STOREWATCH_MONITOR_CONCURRENCY,
//     STOREWATCH_DB_DSN, STOREWATCH_EVIDENCE_BACKEND, STOREWATCH_NOTIFY_BACKEND and friends.
//   - Run locally: go run ./cmd/storewatch -config storewatch.yaml -targets targets.txt
//   - One-off check: add -once to run a single availability (and SKU) cycle and exit.
package main
