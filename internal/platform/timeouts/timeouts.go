// Package timeouts defines shared timeout constants used by the runtime.
package timeouts

import "time"

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers wait for in-flight requests during
// graceful shutdown.
const Shutdown = 5 * time.Second

// JobDrain limits how long shutdown waits for running jobs to observe
// cancellation.
const JobDrain = 10 * time.Second
