// Package metrics provides operational metrics collection.
//
// Each Registry owns an isolated Prometheus registry so services and tests
// never collide on the global default. The registry carries the Go runtime
// and process collectors and is exposed through Handler for scraping.
package metrics
