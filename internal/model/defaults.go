package model

import "time"

// Shared defaults used by the clients, the pipeline and the CLI.
const (
	UnknownValue = "Unknown"

	PageSize        = 100
	MaxPages        = 5
	MaxPeakSnapshot = 5

	DefaultRequestTimeout = 5 * time.Second
	DefaultWindowLabel    = "Realtime"
)
