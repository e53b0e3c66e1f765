package events

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
)

var (
	eventIDPattern       = regexp.MustCompile(`^msg_[a-z0-9]+_[a-f0-9]{16}$`)
	correlationIDPattern = regexp.MustCompile(`^corr_[a-z0-9]+_[a-f0-9]{12}$`)
)

// NewEventID returns a fresh idempotency key. The middle token is the
// creation time in millisecond base-36, the tail is 16 hex chars of random.
func NewEventID() string {
	u := uuid.New()
	return fmt.Sprintf("msg_%s_%s",
		strconv.FormatInt(time.Now().UnixMilli(), 36),
		hex.EncodeToString(u[:8]))
}

// NewCorrelationID returns a fresh correlation key for grouping events that
// originate from the same log line or sweep.
func NewCorrelationID() string {
	u := uuid.New()
	return fmt.Sprintf("corr_%s_%s",
		strconv.FormatInt(time.Now().UnixMilli(), 36),
		hex.EncodeToString(u[:6]))
}

// ValidEventID reports whether id is a well-formed event id.
func ValidEventID(id string) bool {
	return eventIDPattern.MatchString(id)
}

// ValidCorrelationID reports whether id is a well-formed correlation id.
func ValidCorrelationID(id string) bool {
	return correlationIDPattern.MatchString(id)
}
