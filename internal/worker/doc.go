// Package worker implements the embedding worker runtime hosted by the
// codelens-worker binary.
//
// A worker is a single-purpose subprocess: it loads one embedding model,
// reads batch requests from stdin as newline-delimited JSON, and writes one
// response per request to stdout. It holds no state beyond the loaded model
// and shares no memory with the pool or with other workers; the pool talks
// to it exclusively through the stdio protocol in this package.
//
// Lifecycle: on start the worker writes a Hello frame announcing its model
// name and vector dimension. It exits cleanly when stdin is closed, and is
// force-killed by the pool if it fails to exit within the grace period.
package worker
