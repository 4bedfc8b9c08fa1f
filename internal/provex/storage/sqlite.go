package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/provenlab/provex/internal/provex/core"
)

// timeLayout is how timestamps are stored. Nanosecond precision
// matters for the newest-comment merge rule.
const timeLayout = time.RFC3339Nano

// querier is satisfied by both *sql.DB and *sql.Tx so the collection
// types can run against either.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteBackend implements Backend using SQLite.
type SQLiteBackend struct {
	db   *sql.DB
	path string
}

// NewSQLite opens (creating if necessary) a SQLite store at dbPath.
func NewSQLite(ctx context.Context, dbPath string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("connecting to sqlite: %w", err)
	}

	for _, pragma := range allPragmas() {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	for _, stmt := range allSchemaStatements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}

	return &SQLiteBackend{db: db, path: dbPath}, nil
}

// Name returns the engine name.
func (b *SQLiteBackend) Name() string { return EngineSQLite }

// Close closes the database connection.
func (b *SQLiteBackend) Close(ctx context.Context) error {
	return b.db.Close()
}

// DropStorage closes the connection and removes the database files.
func (b *SQLiteBackend) DropStorage(ctx context.Context) error {
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(b.path + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing database file: %w", err)
		}
	}
	return nil
}

func (b *SQLiteBackend) Nodes() NodeCollection       { return &sqliteNodes{q: b.db} }
func (b *SQLiteBackend) Links() LinkCollection       { return &sqliteLinks{q: b.db} }
func (b *SQLiteBackend) Comments() CommentCollection { return &sqliteComments{q: b.db} }
func (b *SQLiteBackend) Users() UserCollection       { return &sqliteUsers{q: b.db} }
func (b *SQLiteBackend) Logs() LogCollection         { return &sqliteLogs{q: b.db} }

// InTransaction runs fn in a single transaction, rolling back on any
// error.
func (b *SQLiteBackend) InTransaction(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(&sqliteTx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back after %v: %w", err, rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// sqliteTx binds the collections to an open transaction.
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Nodes() NodeCollection       { return &sqliteNodes{q: t.tx} }
func (t *sqliteTx) Links() LinkCollection       { return &sqliteLinks{q: t.tx} }
func (t *sqliteTx) Comments() CommentCollection { return &sqliteComments{q: t.tx} }
func (t *sqliteTx) Users() UserCollection       { return &sqliteUsers{q: t.tx} }
func (t *sqliteTx) Logs() LogCollection         { return &sqliteLogs{q: t.tx} }

// Savepoint runs fn inside a named savepoint. A failing fn rolls back
// to the savepoint so the enclosing transaction stays usable.
func (t *sqliteTx) Savepoint(ctx context.Context, name string, fn func() error) error {
	if strings.ContainsAny(name, `"'`) {
		return fmt.Errorf("invalid savepoint name %q", name)
	}
	if _, err := t.tx.ExecContext(ctx, fmt.Sprintf("SAVEPOINT %q", name)); err != nil {
		return fmt.Errorf("creating savepoint: %w", err)
	}

	if err := fn(); err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, fmt.Sprintf("ROLLBACK TO %q", name)); rbErr != nil {
			return fmt.Errorf("rolling back savepoint after %v: %w", err, rbErr)
		}
		if _, relErr := t.tx.ExecContext(ctx, fmt.Sprintf("RELEASE %q", name)); relErr != nil {
			return fmt.Errorf("releasing savepoint after %v: %w", err, relErr)
		}
		return err
	}

	if _, err := t.tx.ExecContext(ctx, fmt.Sprintf("RELEASE %q", name)); err != nil {
		return fmt.Errorf("releasing savepoint: %w", err)
	}
	return nil
}

// JSON and null conversion helpers

func marshalToNull(m map[string]any) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalMap(ns sql.NullString) (map[string]any, error) {
	if !ns.Valid || ns.String == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Older rows may carry second precision.
		return time.Parse(time.RFC3339, s)
	}
	return t, nil
}

// Nodes

type sqliteNodes struct {
	q querier
}

const nodeColumns = `id, uuid, type, label, ctime, mtime, attributes, extras, user_email`

func (c *sqliteNodes) scan(row *sql.Row) (*core.Node, error) {
	var (
		node         core.Node
		ctime, mtime string
		attrs, extra sql.NullString
	)
	err := row.Scan(&node.ID, &node.UUID, &node.Type, &node.Label, &ctime, &mtime, &attrs, &extra, &node.UserEmail)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning node: %w", err)
	}
	return c.build(&node, ctime, mtime, attrs, extra)
}

func (c *sqliteNodes) build(node *core.Node, ctime, mtime string, attrs, extra sql.NullString) (*core.Node, error) {
	var err error
	if node.CTime, err = parseTime(ctime); err != nil {
		return nil, fmt.Errorf("parsing ctime: %w", err)
	}
	if node.MTime, err = parseTime(mtime); err != nil {
		return nil, fmt.Errorf("parsing mtime: %w", err)
	}
	if node.Attributes, err = unmarshalMap(attrs); err != nil {
		return nil, fmt.Errorf("unmarshaling attributes: %w", err)
	}
	if node.Extras, err = unmarshalMap(extra); err != nil {
		return nil, fmt.Errorf("unmarshaling extras: %w", err)
	}
	return node, nil
}

func (c *sqliteNodes) Get(ctx context.Context, uuid string) (*core.Node, error) {
	row := c.q.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE uuid = ?`, uuid)
	node, err := c.scan(row)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, &core.NotFoundError{Kind: "node", Key: uuid}
	}
	return node, nil
}

func (c *sqliteNodes) Exists(ctx context.Context, uuid string) (bool, error) {
	var one int
	err := c.q.QueryRowContext(ctx, `SELECT 1 FROM nodes WHERE uuid = ?`, uuid).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking node existence: %w", err)
	}
	return true, nil
}

func (c *sqliteNodes) Create(ctx context.Context, node *core.Node) error {
	attrs, err := marshalToNull(node.Attributes)
	if err != nil {
		return fmt.Errorf("marshaling attributes: %w", err)
	}
	extras, err := marshalToNull(node.Extras)
	if err != nil {
		return fmt.Errorf("marshaling extras: %w", err)
	}

	res, err := c.q.ExecContext(ctx, `
		INSERT INTO nodes (uuid, type, label, ctime, mtime, attributes, extras, user_email)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		node.UUID,
		node.Type,
		node.Label,
		node.CTime.UTC().Format(timeLayout),
		node.MTime.UTC().Format(timeLayout),
		attrs,
		extras,
		node.UserEmail,
	)
	if err != nil {
		return fmt.Errorf("inserting node: %w", err)
	}
	if node.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("reading node id: %w", err)
	}
	return nil
}

func (c *sqliteNodes) List(ctx context.Context) ([]*core.Node, error) {
	rows, err := c.q.QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*core.Node
	for rows.Next() {
		var (
			node         core.Node
			ctime, mtime string
			attrs, extra sql.NullString
		)
		if err := rows.Scan(&node.ID, &node.UUID, &node.Type, &node.Label, &ctime, &mtime, &attrs, &extra, &node.UserEmail); err != nil {
			return nil, fmt.Errorf("scanning node: %w", err)
		}
		built, err := c.build(&node, ctime, mtime, attrs, extra)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, built)
	}
	return nodes, rows.Err()
}

func (c *sqliteNodes) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := c.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting nodes: %w", err)
	}
	return n, nil
}

func (c *sqliteNodes) GetExtras(ctx context.Context, uuid string) (map[string]any, error) {
	var extras sql.NullString
	err := c.q.QueryRowContext(ctx, `SELECT extras FROM nodes WHERE uuid = ?`, uuid).Scan(&extras)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &core.NotFoundError{Kind: "node", Key: uuid}
	}
	if err != nil {
		return nil, fmt.Errorf("reading extras: %w", err)
	}
	return unmarshalMap(extras)
}

func (c *sqliteNodes) SetExtras(ctx context.Context, uuid string, extras map[string]any) error {
	ns, err := marshalToNull(extras)
	if err != nil {
		return fmt.Errorf("marshaling extras: %w", err)
	}
	res, err := c.q.ExecContext(ctx, `
		UPDATE nodes SET extras = ?, mtime = ? WHERE uuid = ?`,
		ns, time.Now().UTC().Format(timeLayout), uuid)
	if err != nil {
		return fmt.Errorf("updating extras: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update: %w", err)
	}
	if n == 0 {
		return &core.NotFoundError{Kind: "node", Key: uuid}
	}
	return nil
}

// Links

type sqliteLinks struct {
	q querier
}

func (c *sqliteLinks) Create(ctx context.Context, link *core.Link) error {
	if !link.Type.Valid() {
		return fmt.Errorf("invalid link type %q", link.Type)
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO links (source_uuid, target_uuid, type, label)
		VALUES (?, ?, ?, ?)`,
		link.Source, link.Target, string(link.Type), link.Label)
	if err != nil {
		return fmt.Errorf("inserting link: %w", err)
	}
	return nil
}

func (c *sqliteLinks) Exists(ctx context.Context, link *core.Link) (bool, error) {
	var one int
	err := c.q.QueryRowContext(ctx, `
		SELECT 1 FROM links
		WHERE source_uuid = ? AND target_uuid = ? AND type = ? AND label = ?`,
		link.Source, link.Target, string(link.Type), link.Label).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking link existence: %w", err)
	}
	return true, nil
}

func (c *sqliteLinks) list(ctx context.Context, where string, args ...any) ([]*core.Link, error) {
	rows, err := c.q.QueryContext(ctx,
		`SELECT source_uuid, target_uuid, type, label FROM links `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing links: %w", err)
	}
	defer rows.Close()

	var links []*core.Link
	for rows.Next() {
		var link core.Link
		var typ string
		if err := rows.Scan(&link.Source, &link.Target, &typ, &link.Label); err != nil {
			return nil, fmt.Errorf("scanning link: %w", err)
		}
		link.Type = core.LinkType(typ)
		links = append(links, &link)
	}
	return links, rows.Err()
}

func (c *sqliteLinks) ListFrom(ctx context.Context, uuid string) ([]*core.Link, error) {
	return c.list(ctx, `WHERE source_uuid = ?`, uuid)
}

func (c *sqliteLinks) ListTo(ctx context.Context, uuid string) ([]*core.Link, error) {
	return c.list(ctx, `WHERE target_uuid = ?`, uuid)
}

func (c *sqliteLinks) List(ctx context.Context) ([]*core.Link, error) {
	return c.list(ctx, ``)
}

func (c *sqliteLinks) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := c.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM links`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting links: %w", err)
	}
	return n, nil
}

// Comments

type sqliteComments struct {
	q querier
}

const commentColumns = `uuid, node_uuid, ctime, mtime, content, user_email`

func (c *sqliteComments) Get(ctx context.Context, uuid string) (*core.Comment, error) {
	var (
		comment      core.Comment
		ctime, mtime string
	)
	err := c.q.QueryRowContext(ctx,
		`SELECT `+commentColumns+` FROM comments WHERE uuid = ?`, uuid).
		Scan(&comment.UUID, &comment.NodeUUID, &ctime, &mtime, &comment.Content, &comment.UserEmail)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &core.NotFoundError{Kind: "comment", Key: uuid}
	}
	if err != nil {
		return nil, fmt.Errorf("scanning comment: %w", err)
	}
	if comment.CTime, err = parseTime(ctime); err != nil {
		return nil, fmt.Errorf("parsing ctime: %w", err)
	}
	if comment.MTime, err = parseTime(mtime); err != nil {
		return nil, fmt.Errorf("parsing mtime: %w", err)
	}
	return &comment, nil
}

func (c *sqliteComments) Create(ctx context.Context, comment *core.Comment) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO comments (uuid, node_uuid, ctime, mtime, content, user_email)
		VALUES (?, ?, ?, ?, ?, ?)`,
		comment.UUID,
		comment.NodeUUID,
		comment.CTime.UTC().Format(timeLayout),
		comment.MTime.UTC().Format(timeLayout),
		comment.Content,
		comment.UserEmail,
	)
	if err != nil {
		return fmt.Errorf("inserting comment: %w", err)
	}
	return nil
}

func (c *sqliteComments) Replace(ctx context.Context, comment *core.Comment) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE comments SET node_uuid = ?, ctime = ?, mtime = ?, content = ?, user_email = ?
		WHERE uuid = ?`,
		comment.NodeUUID,
		comment.CTime.UTC().Format(timeLayout),
		comment.MTime.UTC().Format(timeLayout),
		comment.Content,
		comment.UserEmail,
		comment.UUID,
	)
	if err != nil {
		return fmt.Errorf("updating comment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update: %w", err)
	}
	if n == 0 {
		return &core.NotFoundError{Kind: "comment", Key: comment.UUID}
	}
	return nil
}

func (c *sqliteComments) ListForNode(ctx context.Context, nodeUUID string) ([]*core.Comment, error) {
	rows, err := c.q.QueryContext(ctx,
		`SELECT `+commentColumns+` FROM comments WHERE node_uuid = ? ORDER BY ctime`, nodeUUID)
	if err != nil {
		return nil, fmt.Errorf("listing comments: %w", err)
	}
	defer rows.Close()

	var comments []*core.Comment
	for rows.Next() {
		var (
			comment      core.Comment
			ctime, mtime string
		)
		if err := rows.Scan(&comment.UUID, &comment.NodeUUID, &ctime, &mtime, &comment.Content, &comment.UserEmail); err != nil {
			return nil, fmt.Errorf("scanning comment: %w", err)
		}
		if comment.CTime, err = parseTime(ctime); err != nil {
			return nil, fmt.Errorf("parsing ctime: %w", err)
		}
		if comment.MTime, err = parseTime(mtime); err != nil {
			return nil, fmt.Errorf("parsing mtime: %w", err)
		}
		comments = append(comments, &comment)
	}
	return comments, rows.Err()
}

// Users

type sqliteUsers struct {
	q querier
}

func (c *sqliteUsers) Find(ctx context.Context, filter UserFilter) ([]*core.User, error) {
	query := `SELECT id, email, first_name, last_name, institution FROM users`
	var (
		conds []string
		args  []any
	)
	if filter.Email != "" {
		conds = append(conds, "email = ?")
		args = append(args, filter.Email)
	}
	if filter.ID != 0 {
		conds = append(conds, "id = ?")
		args = append(args, filter.ID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id"

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("finding users: %w", err)
	}
	defer rows.Close()

	var users []*core.User
	for rows.Next() {
		var user core.User
		if err := rows.Scan(&user.ID, &user.Email, &user.FirstName, &user.LastName, &user.Institution); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, &user)
	}
	return users, rows.Err()
}

// Create builds an unsaved user; Store persists it.
func (c *sqliteUsers) Create(email, firstName, lastName, institution string) *core.User {
	return &core.User{
		Email:       email,
		FirstName:   firstName,
		LastName:    lastName,
		Institution: institution,
	}
}

func (c *sqliteUsers) Store(ctx context.Context, user *core.User) error {
	res, err := c.q.ExecContext(ctx, `
		INSERT INTO users (email, first_name, last_name, institution)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			institution = excluded.institution`,
		user.Email, user.FirstName, user.LastName, user.Institution)
	if err != nil {
		return fmt.Errorf("storing user: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil && id != 0 {
		user.ID = id
	}
	return nil
}

// Logs

type sqliteLogs struct {
	q querier
}

func (c *sqliteLogs) Create(ctx context.Context, entry *core.LogEntry) error {
	meta, err := marshalToNull(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	res, err := c.q.ExecContext(ctx, `
		INSERT INTO logs (uuid, time, logger_name, level_name, node_uuid, message, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.UUID,
		entry.Time.UTC().Format(timeLayout),
		entry.LoggerName,
		entry.LevelName,
		entry.NodeUUID,
		entry.Message,
		meta,
	)
	if err != nil {
		return fmt.Errorf("inserting log entry: %w", err)
	}
	if entry.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("reading log id: %w", err)
	}
	return nil
}

func (c *sqliteLogs) List(ctx context.Context) ([]*core.LogEntry, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, uuid, time, logger_name, level_name, node_uuid, message, metadata
		FROM logs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing logs: %w", err)
	}
	defer rows.Close()

	var entries []*core.LogEntry
	for rows.Next() {
		var (
			entry core.LogEntry
			ts    string
			meta  sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.UUID, &ts, &entry.LoggerName, &entry.LevelName, &entry.NodeUUID, &entry.Message, &meta); err != nil {
			return nil, fmt.Errorf("scanning log entry: %w", err)
		}
		if entry.Time, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("parsing log time: %w", err)
		}
		if entry.Metadata, err = unmarshalMap(meta); err != nil {
			return nil, fmt.Errorf("unmarshaling log metadata: %w", err)
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

func (c *sqliteLogs) Delete(ctx context.Context, id int64) error {
	res, err := c.q.ExecContext(ctx, `DELETE FROM logs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting log entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete: %w", err)
	}
	if n == 0 {
		return &core.NotFoundError{Kind: "log entry", Key: fmt.Sprintf("%d", id)}
	}
	return nil
}

func (c *sqliteLogs) DeleteAll(ctx context.Context) (int64, error) {
	res, err := c.q.ExecContext(ctx, `DELETE FROM logs`)
	if err != nil {
		return 0, fmt.Errorf("deleting all log entries: %w", err)
	}
	return res.RowsAffected()
}

func (c *sqliteLogs) DeleteMany(ctx context.Context, filter LogFilter) ([]int64, error) {
	if filter.Empty() {
		return nil, core.ErrEmptyFilter
	}

	var (
		conds []string
		args  []any
	)
	if filter.NodeUUID != "" {
		conds = append(conds, "node_uuid = ?")
		args = append(args, filter.NodeUUID)
	}
	if filter.LoggerName != "" {
		conds = append(conds, "logger_name = ?")
		args = append(args, filter.LoggerName)
	}
	if !filter.Before.IsZero() {
		conds = append(conds, "time < ?")
		args = append(args, filter.Before.UTC().Format(timeLayout))
	}
	where := " WHERE " + strings.Join(conds, " AND ")

	rows, err := c.q.QueryContext(ctx, `SELECT id FROM logs`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("selecting log entries: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning log id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if _, err := c.q.ExecContext(ctx, `DELETE FROM logs`+where, args...); err != nil {
		return nil, fmt.Errorf("deleting log entries: %w", err)
	}
	return ids, nil
}
