package utils

import (
	"time"
)

// Dispatch constants
const (
	// ProcessingLimit is the audience page size and therefore the size of every batch but the last
	ProcessingLimit = 1000

	// ParallelBatchCount is the upper bound of workers started for one broadcast dispatch
	ParallelBatchCount = 3

	// DueBroadcastSweepLimit is the number of due scheduled broadcasts promoted per sweep
	DueBroadcastSweepLimit = 10

	// InFlightBroadcastPageSize is how many dispatching broadcasts a sweep loads at a time
	InFlightBroadcastPageSize = 100

	// DueScheduledMessageLimit is the number of due scheduled messages handled per run
	DueScheduledMessageLimit = 50

	// ScheduledMessageSendingTimeout is how long a scheduled message may stay in sending before
	// it is treated as abandoned
	ScheduledMessageSendingTimeout = 15 * time.Minute

	// BatchLeaseTTL is how long a claimed batch stays owned by its worker before it may be reclaimed
	BatchLeaseTTL = 15 * time.Minute

	// DefaultScheduledMessageMaxRetries is the retry cap for a scheduled single message
	DefaultScheduledMessageMaxRetries = 3
)

// Pagination constants
const (
	DefaultPageSize = 20
	MaxPageSize     = 100

	// RecipientsPageSize matches the page size of the recipients table in the panel
	RecipientsPageSize = 50
)

// CORS and security constants
const (
	// CORSMaxAge is the maximum age for CORS preflight requests (24 hours)
	CORSMaxAge = 86400
)

// ContextKey is the type of request-scoped values stored in a context
type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
	EndpointKey  ContextKey = "endpoint"
)
