package crm

import "github.com/actumdigital/crm-mcp/pkg/types"

// entityConfig describes how one entity type maps onto the remote OData
// surface: which collection it lives in, which field carries its display
// name, and (for reverse-lookup-capable types) which field carries its ID.
type entityConfig struct {
	Collection string
	NameField  string
	IDField    string
}

// entityConfigs is the compiled-in entity type table. All five types support
// forward (ID to name) lookup; only those with a non-empty IDField support
// reverse (name to ID) lookup.
var entityConfigs = map[types.EntityType]entityConfig{
	types.EntityAccount:  {Collection: "accounts", NameField: "name"},
	types.EntityContact:  {Collection: "contacts", NameField: "fullname"},
	types.EntityUser:     {Collection: "systemusers", NameField: "fullname", IDField: "systemuserid"},
	types.EntityDivision: {Collection: "businessunits", NameField: "name", IDField: "businessunitid"},
	types.EntityService:  {Collection: "actum_proposedservices", NameField: "actum_name"},
}
