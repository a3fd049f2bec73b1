// Package batch runs one operation over many ids with bounded parallelism
// and collects per-item results, so partial failures are reported item by
// item instead of failing the whole batch.
package batch
