package storage

import (
	"context"
	"time"

	"github.com/provenlab/provex/internal/provex/core"
)

// Backend is the capability interface every storage engine implements.
// The engine is selected from the profile at open time, never inferred
// per call.
type Backend interface {
	// Name returns the engine name ("sqlite", "neo4j").
	Name() string

	Nodes() NodeCollection
	Links() LinkCollection
	Comments() CommentCollection
	Users() UserCollection
	Logs() LogCollection

	// InTransaction runs fn inside a single store transaction. Any
	// error returned by fn rolls the whole transaction back.
	InTransaction(ctx context.Context, fn func(tx Tx) error) error

	// DropStorage destroys the underlying database. Used by profile
	// deletion; callers are responsible for confirmation.
	DropStorage(ctx context.Context) error

	Close(ctx context.Context) error
}

// Tx exposes the collections bound to an open transaction.
type Tx interface {
	Nodes() NodeCollection
	Links() LinkCollection
	Comments() CommentCollection
	Users() UserCollection
	Logs() LogCollection

	// Savepoint runs fn inside a nested savepoint where the engine
	// supports one; a failing fn rolls back only its own work and the
	// error is returned for the caller to decide on. Engines without
	// savepoints run fn directly, so a failure aborts the enclosing
	// transaction.
	Savepoint(ctx context.Context, name string, fn func() error) error
}

// NodeCollection persists provenance nodes keyed by UUID.
type NodeCollection interface {
	Get(ctx context.Context, uuid string) (*core.Node, error)
	Exists(ctx context.Context, uuid string) (bool, error)
	// Create stores a new node and fills in its store-local ID.
	Create(ctx context.Context, node *core.Node) error
	List(ctx context.Context) ([]*core.Node, error)
	Count(ctx context.Context) (int64, error)
	GetExtras(ctx context.Context, uuid string) (map[string]any, error)
	SetExtras(ctx context.Context, uuid string, extras map[string]any) error
}

// LinkCollection persists typed edges. (Source, Target, Type, Label)
// is unique.
type LinkCollection interface {
	Create(ctx context.Context, link *core.Link) error
	Exists(ctx context.Context, link *core.Link) (bool, error)
	ListFrom(ctx context.Context, uuid string) ([]*core.Link, error)
	ListTo(ctx context.Context, uuid string) ([]*core.Link, error)
	List(ctx context.Context) ([]*core.Link, error)
	Count(ctx context.Context) (int64, error)
}

// CommentCollection persists node comments keyed by UUID.
type CommentCollection interface {
	Get(ctx context.Context, uuid string) (*core.Comment, error)
	Create(ctx context.Context, comment *core.Comment) error
	// Replace overwrites the stored comment with the same UUID.
	Replace(ctx context.Context, comment *core.Comment) error
	ListForNode(ctx context.Context, nodeUUID string) ([]*core.Comment, error)
}

// UserFilter narrows a user query. Zero values mean "no constraint".
type UserFilter struct {
	Email string
	ID    int64
}

// UserCollection persists users keyed by email.
type UserCollection interface {
	Find(ctx context.Context, filter UserFilter) ([]*core.User, error)
	// Create builds a user value without persisting it; call Store to
	// save it.
	Create(email, firstName, lastName, institution string) *core.User
	Store(ctx context.Context, user *core.User) error
}

// LogFilter narrows a log deletion. Empty reports whether no
// constraint is set.
type LogFilter struct {
	NodeUUID   string
	LoggerName string
	Before     time.Time
}

// Empty reports whether the filter matches everything.
func (f LogFilter) Empty() bool {
	return f.NodeUUID == "" && f.LoggerName == "" && f.Before.IsZero()
}

// LogCollection persists log entries attached to nodes.
type LogCollection interface {
	Create(ctx context.Context, entry *core.LogEntry) error
	List(ctx context.Context) ([]*core.LogEntry, error)
	Delete(ctx context.Context, id int64) error
	DeleteAll(ctx context.Context) (int64, error)
	// DeleteMany removes entries matching filter and returns their
	// ids. An empty filter is rejected with core.ErrEmptyFilter before
	// any row is touched.
	DeleteMany(ctx context.Context, filter LogFilter) ([]int64, error)
}
