package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/provenlab/provex/internal/provex/core"
)

// Neo4jConfig holds Neo4j connection configuration.
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

// Neo4jBackend implements Backend over the bolt protocol.
type Neo4jBackend struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4j connects to a Neo4j server and verifies connectivity.
func NewNeo4j(ctx context.Context, cfg Neo4jConfig) (*Neo4jBackend, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("connecting to neo4j: %w", err)
	}

	database := cfg.Database
	if database == "" {
		database = "neo4j"
	}

	return &Neo4jBackend{driver: driver, database: database}, nil
}

// Name returns the engine name.
func (b *Neo4jBackend) Name() string { return EngineNeo4j }

// Close closes the driver.
func (b *Neo4jBackend) Close(ctx context.Context) error {
	return b.driver.Close(ctx)
}

var dbNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9.-]*$`)

// DropStorage drops the backing database via the system database.
// Database names cannot be parameterized in Cypher, hence the name
// check before interpolation.
func (b *Neo4jBackend) DropStorage(ctx context.Context) error {
	if !dbNamePattern.MatchString(b.database) {
		return fmt.Errorf("invalid database name %q", b.database)
	}
	session := b.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: "system"})
	defer session.Close(ctx)

	_, err := session.Run(ctx, fmt.Sprintf("DROP DATABASE %s IF EXISTS", b.database), nil)
	if err != nil {
		return fmt.Errorf("dropping database: %w", err)
	}
	return nil
}

// cypherExec abstracts "run this unit of work" so the collections can
// operate either on per-call sessions or inside one managed
// transaction.
type cypherExec interface {
	Read(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error)
	Write(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error)
}

// sessionExec opens a session per call (autocommit-style usage).
type sessionExec struct {
	driver   neo4j.DriverWithContext
	database string
}

func (e *sessionExec) Read(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error) {
	session := e.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: e.database})
	defer session.Close(ctx)
	return session.ExecuteRead(ctx, work)
}

func (e *sessionExec) Write(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error) {
	session := e.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: e.database})
	defer session.Close(ctx)
	return session.ExecuteWrite(ctx, work)
}

// txExec runs every unit of work on one already-open transaction.
type txExec struct {
	tx neo4j.ManagedTransaction
}

func (e *txExec) Read(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error) {
	return work(e.tx)
}

func (e *txExec) Write(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error) {
	return work(e.tx)
}

func (b *Neo4jBackend) exec() cypherExec {
	return &sessionExec{driver: b.driver, database: b.database}
}

func (b *Neo4jBackend) Nodes() NodeCollection       { return &neo4jNodes{e: b.exec()} }
func (b *Neo4jBackend) Links() LinkCollection       { return &neo4jLinks{e: b.exec()} }
func (b *Neo4jBackend) Comments() CommentCollection { return &neo4jComments{e: b.exec()} }
func (b *Neo4jBackend) Users() UserCollection       { return &neo4jUsers{e: b.exec()} }
func (b *Neo4jBackend) Logs() LogCollection         { return &neo4jLogs{e: b.exec()} }

// InTransaction runs fn inside a single managed write transaction.
func (b *Neo4jBackend) InTransaction(ctx context.Context, fn func(tx Tx) error) error {
	session := b.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: b.database})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(mtx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(&neo4jTx{e: &txExec{tx: mtx}})
	})
	return err
}

// neo4jTx binds the collections to one managed transaction. Neo4j has
// no savepoints, so Savepoint runs fn directly and a failure aborts
// the whole transaction.
type neo4jTx struct {
	e cypherExec
}

func (t *neo4jTx) Nodes() NodeCollection       { return &neo4jNodes{e: t.e} }
func (t *neo4jTx) Links() LinkCollection       { return &neo4jLinks{e: t.e} }
func (t *neo4jTx) Comments() CommentCollection { return &neo4jComments{e: t.e} }
func (t *neo4jTx) Users() UserCollection       { return &neo4jUsers{e: t.e} }
func (t *neo4jTx) Logs() LogCollection         { return &neo4jLogs{e: t.e} }

func (t *neo4jTx) Savepoint(ctx context.Context, name string, fn func() error) error {
	return fn()
}

// Maps are stored as JSON string properties; Neo4j does not support
// nested maps.
func mapToJSON(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func jsonToMap(v any) (map[string]any, error) {
	s, ok := v.(string)
	if !ok || s == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func propString(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}

func propTime(props map[string]any, key string) (time.Time, error) {
	s := propString(props, key)
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}

// Nodes

type neo4jNodes struct {
	e cypherExec
}

func nodeFromProps(id int64, props map[string]any) (*core.Node, error) {
	attrs, err := jsonToMap(props["attributes"])
	if err != nil {
		return nil, fmt.Errorf("unmarshaling attributes: %w", err)
	}
	extras, err := jsonToMap(props["extras"])
	if err != nil {
		return nil, fmt.Errorf("unmarshaling extras: %w", err)
	}
	ctime, err := propTime(props, "ctime")
	if err != nil {
		return nil, fmt.Errorf("parsing ctime: %w", err)
	}
	mtime, err := propTime(props, "mtime")
	if err != nil {
		return nil, fmt.Errorf("parsing mtime: %w", err)
	}
	return &core.Node{
		ID:         id,
		UUID:       propString(props, "uuid"),
		Type:       propString(props, "type"),
		Label:      propString(props, "label"),
		CTime:      ctime,
		MTime:      mtime,
		Attributes: attrs,
		Extras:     extras,
		UserEmail:  propString(props, "user_email"),
	}, nil
}

func (c *neo4jNodes) Get(ctx context.Context, uuid string) (*core.Node, error) {
	result, err := c.e.Read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `MATCH (n:Node {uuid: $uuid}) RETURN n, id(n) AS id`,
			map[string]any{"uuid": uuid})
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			return nil, &core.NotFoundError{Kind: "node", Key: uuid}
		}
		record := res.Record()
		nodeValue, _ := record.Get("n")
		idValue, _ := record.Get("id")
		return nodeFromProps(idValue.(int64), nodeValue.(neo4j.Node).Props)
	})
	if err != nil {
		return nil, err
	}
	return result.(*core.Node), nil
}

func (c *neo4jNodes) Exists(ctx context.Context, uuid string) (bool, error) {
	result, err := c.e.Read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `MATCH (n:Node {uuid: $uuid}) RETURN count(n) AS c`,
			map[string]any{"uuid": uuid})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		count, _ := record.Get("c")
		return count.(int64) > 0, nil
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

func (c *neo4jNodes) Create(ctx context.Context, node *core.Node) error {
	attrs, err := mapToJSON(node.Attributes)
	if err != nil {
		return fmt.Errorf("marshaling attributes: %w", err)
	}
	extras, err := mapToJSON(node.Extras)
	if err != nil {
		return fmt.Errorf("marshaling extras: %w", err)
	}

	result, err := c.e.Write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			CREATE (n:Node {
				uuid: $uuid,
				type: $type,
				label: $label,
				ctime: $ctime,
				mtime: $mtime,
				attributes: $attributes,
				extras: $extras,
				user_email: $user_email
			})
			RETURN id(n) AS id`,
			map[string]any{
				"uuid":       node.UUID,
				"type":       node.Type,
				"label":      node.Label,
				"ctime":      node.CTime.UTC().Format(timeLayout),
				"mtime":      node.MTime.UTC().Format(timeLayout),
				"attributes": attrs,
				"extras":     extras,
				"user_email": node.UserEmail,
			})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		id, _ := record.Get("id")
		return id.(int64), nil
	})
	if err != nil {
		return fmt.Errorf("creating node: %w", err)
	}
	node.ID = result.(int64)
	return nil
}

func (c *neo4jNodes) List(ctx context.Context) ([]*core.Node, error) {
	result, err := c.e.Read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `MATCH (n:Node) RETURN n, id(n) AS id ORDER BY id(n)`, nil)
		if err != nil {
			return nil, err
		}
		var nodes []*core.Node
		for res.Next(ctx) {
			record := res.Record()
			nodeValue, _ := record.Get("n")
			idValue, _ := record.Get("id")
			node, err := nodeFromProps(idValue.(int64), nodeValue.(neo4j.Node).Props)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, node)
		}
		return nodes, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]*core.Node), nil
}

func (c *neo4jNodes) Count(ctx context.Context) (int64, error) {
	result, err := c.e.Read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `MATCH (n:Node) RETURN count(n) AS c`, nil)
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		count, _ := record.Get("c")
		return count.(int64), nil
	})
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

func (c *neo4jNodes) GetExtras(ctx context.Context, uuid string) (map[string]any, error) {
	node, err := c.Get(ctx, uuid)
	if err != nil {
		return nil, err
	}
	return node.Extras, nil
}

func (c *neo4jNodes) SetExtras(ctx context.Context, uuid string, extras map[string]any) error {
	data, err := mapToJSON(extras)
	if err != nil {
		return fmt.Errorf("marshaling extras: %w", err)
	}
	result, err := c.e.Write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (n:Node {uuid: $uuid})
			SET n.extras = $extras, n.mtime = $mtime
			RETURN count(n) AS c`,
			map[string]any{
				"uuid":   uuid,
				"extras": data,
				"mtime":  time.Now().UTC().Format(timeLayout),
			})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		count, _ := record.Get("c")
		return count.(int64), nil
	})
	if err != nil {
		return fmt.Errorf("updating extras: %w", err)
	}
	if result.(int64) == 0 {
		return &core.NotFoundError{Kind: "node", Key: uuid}
	}
	return nil
}

// Links

type neo4jLinks struct {
	e cypherExec
}

func (c *neo4jLinks) Create(ctx context.Context, link *core.Link) error {
	if !link.Type.Valid() {
		return fmt.Errorf("invalid link type %q", link.Type)
	}
	_, err := c.e.Write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (source:Node {uuid: $source})
			MATCH (target:Node {uuid: $target})
			CREATE (source)-[r:LINK {type: $type, label: $label}]->(target)
			RETURN count(r) AS c`,
			map[string]any{
				"source": link.Source,
				"target": link.Target,
				"type":   string(link.Type),
				"label":  link.Label,
			})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		count, _ := record.Get("c")
		if count.(int64) == 0 {
			return nil, fmt.Errorf("link endpoints not found: %s -> %s", link.Source, link.Target)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("creating link: %w", err)
	}
	return nil
}

func (c *neo4jLinks) Exists(ctx context.Context, link *core.Link) (bool, error) {
	result, err := c.e.Read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (:Node {uuid: $source})-[r:LINK {type: $type, label: $label}]->(:Node {uuid: $target})
			RETURN count(r) AS c`,
			map[string]any{
				"source": link.Source,
				"target": link.Target,
				"type":   string(link.Type),
				"label":  link.Label,
			})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		count, _ := record.Get("c")
		return count.(int64) > 0, nil
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

func (c *neo4jLinks) list(ctx context.Context, match string, params map[string]any) ([]*core.Link, error) {
	result, err := c.e.Read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, match, params)
		if err != nil {
			return nil, err
		}
		var links []*core.Link
		for res.Next(ctx) {
			record := res.Record()
			sourceValue, _ := record.Get("source")
			targetValue, _ := record.Get("target")
			relValue, _ := record.Get("r")
			props := relValue.(neo4j.Relationship).Props
			links = append(links, &core.Link{
				Source: sourceValue.(string),
				Target: targetValue.(string),
				Type:   core.LinkType(propString(props, "type")),
				Label:  propString(props, "label"),
			})
		}
		return links, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]*core.Link), nil
}

func (c *neo4jLinks) ListFrom(ctx context.Context, uuid string) ([]*core.Link, error) {
	return c.list(ctx, `
		MATCH (s:Node {uuid: $uuid})-[r:LINK]->(t:Node)
		RETURN s.uuid AS source, t.uuid AS target, r`,
		map[string]any{"uuid": uuid})
}

func (c *neo4jLinks) ListTo(ctx context.Context, uuid string) ([]*core.Link, error) {
	return c.list(ctx, `
		MATCH (s:Node)-[r:LINK]->(t:Node {uuid: $uuid})
		RETURN s.uuid AS source, t.uuid AS target, r`,
		map[string]any{"uuid": uuid})
}

func (c *neo4jLinks) List(ctx context.Context) ([]*core.Link, error) {
	return c.list(ctx, `
		MATCH (s:Node)-[r:LINK]->(t:Node)
		RETURN s.uuid AS source, t.uuid AS target, r`, nil)
}

func (c *neo4jLinks) Count(ctx context.Context) (int64, error) {
	result, err := c.e.Read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `MATCH ()-[r:LINK]->() RETURN count(r) AS c`, nil)
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		count, _ := record.Get("c")
		return count.(int64), nil
	})
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

// Comments

type neo4jComments struct {
	e cypherExec
}

func commentFromProps(props map[string]any) (*core.Comment, error) {
	ctime, err := propTime(props, "ctime")
	if err != nil {
		return nil, fmt.Errorf("parsing ctime: %w", err)
	}
	mtime, err := propTime(props, "mtime")
	if err != nil {
		return nil, fmt.Errorf("parsing mtime: %w", err)
	}
	return &core.Comment{
		UUID:      propString(props, "uuid"),
		NodeUUID:  propString(props, "node_uuid"),
		CTime:     ctime,
		MTime:     mtime,
		Content:   propString(props, "content"),
		UserEmail: propString(props, "user_email"),
	}, nil
}

func (c *neo4jComments) Get(ctx context.Context, uuid string) (*core.Comment, error) {
	result, err := c.e.Read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `MATCH (c:Comment {uuid: $uuid}) RETURN c`,
			map[string]any{"uuid": uuid})
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			return nil, &core.NotFoundError{Kind: "comment", Key: uuid}
		}
		commentValue, _ := res.Record().Get("c")
		return commentFromProps(commentValue.(neo4j.Node).Props)
	})
	if err != nil {
		return nil, err
	}
	return result.(*core.Comment), nil
}

func (c *neo4jComments) write(ctx context.Context, cypher string, comment *core.Comment) (int64, error) {
	result, err := c.e.Write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, map[string]any{
			"uuid":       comment.UUID,
			"node_uuid":  comment.NodeUUID,
			"ctime":      comment.CTime.UTC().Format(timeLayout),
			"mtime":      comment.MTime.UTC().Format(timeLayout),
			"content":    comment.Content,
			"user_email": comment.UserEmail,
		})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		count, _ := record.Get("c")
		return count.(int64), nil
	})
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

func (c *neo4jComments) Create(ctx context.Context, comment *core.Comment) error {
	_, err := c.write(ctx, `
		CREATE (n:Comment {
			uuid: $uuid,
			node_uuid: $node_uuid,
			ctime: $ctime,
			mtime: $mtime,
			content: $content,
			user_email: $user_email
		})
		RETURN count(n) AS c`, comment)
	if err != nil {
		return fmt.Errorf("creating comment: %w", err)
	}
	return nil
}

func (c *neo4jComments) Replace(ctx context.Context, comment *core.Comment) error {
	count, err := c.write(ctx, `
		MATCH (n:Comment {uuid: $uuid})
		SET n.node_uuid = $node_uuid,
		    n.ctime = $ctime,
		    n.mtime = $mtime,
		    n.content = $content,
		    n.user_email = $user_email
		RETURN count(n) AS c`, comment)
	if err != nil {
		return fmt.Errorf("replacing comment: %w", err)
	}
	if count == 0 {
		return &core.NotFoundError{Kind: "comment", Key: comment.UUID}
	}
	return nil
}

func (c *neo4jComments) ListForNode(ctx context.Context, nodeUUID string) ([]*core.Comment, error) {
	result, err := c.e.Read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (c:Comment {node_uuid: $node_uuid})
			RETURN c ORDER BY c.ctime`,
			map[string]any{"node_uuid": nodeUUID})
		if err != nil {
			return nil, err
		}
		var comments []*core.Comment
		for res.Next(ctx) {
			commentValue, _ := res.Record().Get("c")
			comment, err := commentFromProps(commentValue.(neo4j.Node).Props)
			if err != nil {
				return nil, err
			}
			comments = append(comments, comment)
		}
		return comments, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]*core.Comment), nil
}

// Users

type neo4jUsers struct {
	e cypherExec
}

func (c *neo4jUsers) Find(ctx context.Context, filter UserFilter) ([]*core.User, error) {
	cypher := `MATCH (u:User)`
	params := map[string]any{}
	where := ""
	if filter.Email != "" {
		where = ` WHERE u.email = $email`
		params["email"] = filter.Email
	}
	if filter.ID != 0 {
		if where == "" {
			where = ` WHERE id(u) = $id`
		} else {
			where += ` AND id(u) = $id`
		}
		params["id"] = filter.ID
	}
	cypher += where + ` RETURN u, id(u) AS id ORDER BY id(u)`

	result, err := c.e.Read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		var users []*core.User
		for res.Next(ctx) {
			record := res.Record()
			userValue, _ := record.Get("u")
			idValue, _ := record.Get("id")
			props := userValue.(neo4j.Node).Props
			users = append(users, &core.User{
				ID:          idValue.(int64),
				Email:       propString(props, "email"),
				FirstName:   propString(props, "first_name"),
				LastName:    propString(props, "last_name"),
				Institution: propString(props, "institution"),
			})
		}
		return users, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]*core.User), nil
}

func (c *neo4jUsers) Create(email, firstName, lastName, institution string) *core.User {
	return &core.User{
		Email:       email,
		FirstName:   firstName,
		LastName:    lastName,
		Institution: institution,
	}
}

func (c *neo4jUsers) Store(ctx context.Context, user *core.User) error {
	result, err := c.e.Write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MERGE (u:User {email: $email})
			SET u.first_name = $first_name,
			    u.last_name = $last_name,
			    u.institution = $institution
			RETURN id(u) AS id`,
			map[string]any{
				"email":       user.Email,
				"first_name":  user.FirstName,
				"last_name":   user.LastName,
				"institution": user.Institution,
			})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		id, _ := record.Get("id")
		return id.(int64), nil
	})
	if err != nil {
		return fmt.Errorf("storing user: %w", err)
	}
	user.ID = result.(int64)
	return nil
}

// Logs

type neo4jLogs struct {
	e cypherExec
}

func (c *neo4jLogs) Create(ctx context.Context, entry *core.LogEntry) error {
	meta, err := mapToJSON(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	result, err := c.e.Write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			CREATE (l:Log {
				uuid: $uuid,
				time: $time,
				logger_name: $logger_name,
				level_name: $level_name,
				node_uuid: $node_uuid,
				message: $message,
				metadata: $metadata
			})
			RETURN id(l) AS id`,
			map[string]any{
				"uuid":        entry.UUID,
				"time":        entry.Time.UTC().Format(timeLayout),
				"logger_name": entry.LoggerName,
				"level_name":  entry.LevelName,
				"node_uuid":   entry.NodeUUID,
				"message":     entry.Message,
				"metadata":    meta,
			})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		id, _ := record.Get("id")
		return id.(int64), nil
	})
	if err != nil {
		return fmt.Errorf("creating log entry: %w", err)
	}
	entry.ID = result.(int64)
	return nil
}

func (c *neo4jLogs) List(ctx context.Context) ([]*core.LogEntry, error) {
	result, err := c.e.Read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `MATCH (l:Log) RETURN l, id(l) AS id ORDER BY id(l)`, nil)
		if err != nil {
			return nil, err
		}
		var entries []*core.LogEntry
		for res.Next(ctx) {
			record := res.Record()
			logValue, _ := record.Get("l")
			idValue, _ := record.Get("id")
			props := logValue.(neo4j.Node).Props
			ts, err := propTime(props, "time")
			if err != nil {
				return nil, fmt.Errorf("parsing log time: %w", err)
			}
			meta, err := jsonToMap(props["metadata"])
			if err != nil {
				return nil, fmt.Errorf("unmarshaling log metadata: %w", err)
			}
			entries = append(entries, &core.LogEntry{
				ID:         idValue.(int64),
				UUID:       propString(props, "uuid"),
				Time:       ts,
				LoggerName: propString(props, "logger_name"),
				LevelName:  propString(props, "level_name"),
				NodeUUID:   propString(props, "node_uuid"),
				Message:    propString(props, "message"),
				Metadata:   meta,
			})
		}
		return entries, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]*core.LogEntry), nil
}

func (c *neo4jLogs) deleteWhere(ctx context.Context, where string, params map[string]any) ([]int64, error) {
	result, err := c.e.Write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (l:Log)`+where+`
			WITH l, id(l) AS lid
			DELETE l
			RETURN lid`, params)
		if err != nil {
			return nil, err
		}
		var ids []int64
		for res.Next(ctx) {
			idValue, _ := res.Record().Get("lid")
			ids = append(ids, idValue.(int64))
		}
		return ids, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]int64), nil
}

func (c *neo4jLogs) Delete(ctx context.Context, id int64) error {
	ids, err := c.deleteWhere(ctx, ` WHERE id(l) = $id`, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("deleting log entry: %w", err)
	}
	if len(ids) == 0 {
		return &core.NotFoundError{Kind: "log entry", Key: fmt.Sprintf("%d", id)}
	}
	return nil
}

func (c *neo4jLogs) DeleteAll(ctx context.Context) (int64, error) {
	ids, err := c.deleteWhere(ctx, ``, nil)
	if err != nil {
		return 0, fmt.Errorf("deleting all log entries: %w", err)
	}
	return int64(len(ids)), nil
}

func (c *neo4jLogs) DeleteMany(ctx context.Context, filter LogFilter) ([]int64, error) {
	if filter.Empty() {
		return nil, core.ErrEmptyFilter
	}

	var conds []string
	params := map[string]any{}
	if filter.NodeUUID != "" {
		conds = append(conds, "l.node_uuid = $node_uuid")
		params["node_uuid"] = filter.NodeUUID
	}
	if filter.LoggerName != "" {
		conds = append(conds, "l.logger_name = $logger_name")
		params["logger_name"] = filter.LoggerName
	}
	if !filter.Before.IsZero() {
		conds = append(conds, "l.time < $before")
		params["before"] = filter.Before.UTC().Format(timeLayout)
	}

	where := " WHERE " + conds[0]
	for _, cond := range conds[1:] {
		where += " AND " + cond
	}

	ids, err := c.deleteWhere(ctx, where, params)
	if err != nil {
		return nil, fmt.Errorf("deleting log entries: %w", err)
	}
	return ids, nil
}
