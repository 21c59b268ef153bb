package agentchat

import "github.com/xraph/agentchat/id"

// ID is the primary identifier type for all agentchat records.
type ID = id.ID

// Prefix identifies the record type encoded in a TypeID.
type Prefix = id.Prefix
