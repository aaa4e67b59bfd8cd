package config

import "time"

// Job concurrency.
const (
	// ChunkSize is how many installations a job handles concurrently.
	ChunkSize = 10
)

// Evaluation defaults.
const (
	// DefaultLookback is the query window of every alarm evaluation.
	DefaultLookback = 8 * time.Hour

	// DefaultDatapointLimit is the row limit when a configuration sets no
	// datapoint count.
	DefaultDatapointLimit = 10
)

// Health check limits.
const (
	// ProbeTimeoutCap is the longest a frontend probe may take.
	ProbeTimeoutCap = 10 * time.Second

	// HealthHistoryCapacity is how many health statuses an installation keeps.
	HealthHistoryCapacity = 10
)

// Buffer flushing.
const (
	BufferFlushBatchSize = 5000
	BufferFlushInterval  = 2 * time.Second
)

// Connection timeouts.
const (
	DatabaseConnectTimeout = 10 * time.Second
	ShutdownTimeout        = 10 * time.Second
)
