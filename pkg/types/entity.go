// Package types defines the shared domain types for the CRM MCP server.
package types

// EntityType identifies a CRM entity class that the resolution cache knows
// how to translate between IDs and display names.
type EntityType string

// Known entity types.
const (
	EntityAccount  EntityType = "account"
	EntityContact  EntityType = "contact"
	EntityUser     EntityType = "user"
	EntityDivision EntityType = "division"
	EntityService  EntityType = "service"
)

// KnownEntityTypes lists every entity type supported for forward (ID to name)
// resolution.
func KnownEntityTypes() []EntityType {
	return []EntityType{EntityAccount, EntityContact, EntityUser, EntityDivision, EntityService}
}

// Known reports whether t is one of the supported entity types.
func (t EntityType) Known() bool {
	switch t {
	case EntityAccount, EntityContact, EntityUser, EntityDivision, EntityService:
		return true
	}
	return false
}

// ReverseResolvable reports whether t supports name to ID lookup. Only users
// and divisions carry an ID field in the remote search configuration; the
// asymmetry is intentional and callers must not widen it.
func (t EntityType) ReverseResolvable() bool {
	return t == EntityUser || t == EntityDivision
}
