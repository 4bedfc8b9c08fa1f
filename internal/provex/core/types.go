package core

import (
	"time"
)

// LinkType enumerates the kinds of provenance edges.
type LinkType string

const (
	LinkInput       LinkType = "input"
	LinkOutput      LinkType = "output"
	LinkCreate      LinkType = "create"
	LinkReturn      LinkType = "return"
	LinkCall        LinkType = "call"
	LinkUnspecified LinkType = "unspecified"
)

// Valid reports whether t is one of the known link types.
func (t LinkType) Valid() bool {
	switch t {
	case LinkInput, LinkOutput, LinkCreate, LinkReturn, LinkCall, LinkUnspecified:
		return true
	}
	return false
}

// Node is a vertex of the provenance graph. UUID is the portable
// identity; ID is the store-local numeric key and never survives
// export/import.
type Node struct {
	ID         int64          // Store-local primary key
	UUID       string         // Portable identity
	Type       string         // Node type tag
	Label      string         // Human-readable label
	CTime      time.Time      // Creation timestamp
	MTime      time.Time      // Last modification
	Attributes map[string]any // Immutable provenance data
	Extras     map[string]any // Mutable user metadata
	UserEmail  string         // Owning user
}

// Link is a directed, typed edge between two nodes.
// (Source, Target, Type, Label) is unique within a store.
type Link struct {
	Source string   // Source node UUID
	Target string   // Target node UUID
	Type   LinkType // Edge kind
	Label  string   // Edge label
}

// Comment is a user note attached to a node.
type Comment struct {
	UUID      string
	NodeUUID  string
	CTime     time.Time
	MTime     time.Time
	Content   string
	UserEmail string
}

// User identifies the author of nodes and comments. Email is unique.
type User struct {
	ID          int64
	Email       string
	FirstName   string
	LastName    string
	Institution string
}

// LogEntry records a message emitted while a node was being produced.
type LogEntry struct {
	ID         int64
	UUID       string
	Time       time.Time
	LoggerName string
	LevelName  string
	NodeUUID   string
	Message    string
	Metadata   map[string]any
}
