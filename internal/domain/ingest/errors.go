package ingest

import "errors"

// Sentinel kinds for ingestion errors.
var (
	ErrCorroborationTimeout = errors.New("corroboration outcome not available in time")
	ErrQuarantineDecided    = errors.New("quarantine record already decided")
)
