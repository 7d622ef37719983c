package entitycache

import (
	"fmt"

	"github.com/actumdigital/crm-mcp/pkg/types"
)

// Outcome tags how a remote fetch concluded. Failed lookups are cached with
// the same expiry as successful ones, so the tag travels with the entry; it
// replaces sniffing sentinel prefixes out of the display string.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeNotFound        Outcome = "not_found"
	OutcomeError           Outcome = "error"
	OutcomeUnsupportedType Outcome = "unsupported_type"
)

// FetchResult is the never-fails result of a fetch-by-ID against the CRM.
// Name always holds something displayable: the entity's display name on
// success, or a fallback string embedding the failure reason otherwise.
type FetchResult struct {
	Outcome Outcome
	Name    string
}

// Found builds a successful result carrying the resolved display name.
func Found(name string) FetchResult {
	return FetchResult{Outcome: OutcomeSuccess, Name: name}
}

// NotFound builds the fallback result for an entity the CRM does not know.
func NotFound(entityID string) FetchResult {
	return FetchResult{
		Outcome: OutcomeNotFound,
		Name:    fmt.Sprintf("Not found (%s...)", ShortID(entityID)),
	}
}

// FetchError builds the fallback result for a transport-level failure
// (network error, timeout, open circuit breaker).
func FetchError(entityID string) FetchResult {
	return FetchResult{
		Outcome: OutcomeError,
		Name:    fmt.Sprintf("Error (%s...)", ShortID(entityID)),
	}
}

// StatusError builds the fallback result for an unexpected HTTP status.
func StatusError(statusCode int, entityID string) FetchResult {
	return FetchResult{
		Outcome: OutcomeError,
		Name:    fmt.Sprintf("Error %d (%s...)", statusCode, ShortID(entityID)),
	}
}

// UnsupportedType builds the fallback result for an entity type the remote
// configuration does not cover.
func UnsupportedType(entityType types.EntityType) FetchResult {
	return FetchResult{
		Outcome: OutcomeUnsupportedType,
		Name:    fmt.Sprintf("Unknown type (%s)", entityType),
	}
}

// ShortID returns the first 8 characters of an entity ID for log and fallback
// strings, or the whole ID when it is shorter.
func ShortID(entityID string) string {
	if len(entityID) > 8 {
		return entityID[:8]
	}
	return entityID
}
