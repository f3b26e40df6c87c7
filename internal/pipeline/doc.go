// Package pipeline partitions a variant file by chromosome, annotates each
// partition with the external engine on a bounded worker pool, and merges
// the results into a single file.
//
// Stages run strictly in sequence; only the engine runs in parallel. A run
// moves through INIT → PARTITIONED → JOBS_BUILT → RUNNING → MERGED →
// CLEANED, or ends in FAILED. Any failed job stops the run before merge
// and leaves every intermediate file in place for inspection.
package pipeline
