package archive

import (
	"time"

	"github.com/provenlab/provex/internal/provex/core"
)

// FormatVersion is the current archive layout version.
const FormatVersion = "1"

// File names inside an archive.
const (
	metadataFile = "metadata.json"
	nodesDir     = "nodes"
	linksFile    = "links.json"
	commentsFile = "comments.json"
	usersFile    = "users.json"
	repoDir      = "repo"
)

// Metadata describes an archive and is always written last so its
// counts reflect what was actually exported.
type Metadata struct {
	FormatVersion string    `json:"format_version"`
	Created       time.Time `json:"created"`
	Nodes         int       `json:"nodes"`
	Links         int       `json:"links"`
	Comments      int       `json:"comments"`
	Users         int       `json:"users"`
	Source        string    `json:"source,omitempty"`
}

// NodeRecord is the wire form of a node. The store-local numeric ID is
// deliberately absent; only the UUID travels.
type NodeRecord struct {
	UUID       string         `json:"uuid"`
	Type       string         `json:"type"`
	Label      string         `json:"label,omitempty"`
	CTime      time.Time      `json:"ctime"`
	MTime      time.Time      `json:"mtime"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Extras     map[string]any `json:"extras,omitempty"`
	UserEmail  string         `json:"user,omitempty"`
}

// LinkRecord is the wire form of a link.
type LinkRecord struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
	Label  string `json:"label,omitempty"`
}

// CommentRecord is the wire form of a comment.
type CommentRecord struct {
	UUID      string    `json:"uuid"`
	NodeUUID  string    `json:"node"`
	CTime     time.Time `json:"ctime"`
	MTime     time.Time `json:"mtime"`
	Content   string    `json:"content"`
	UserEmail string    `json:"user,omitempty"`
}

// UserRecord is the wire form of a user.
type UserRecord struct {
	Email       string `json:"email"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	Institution string `json:"institution,omitempty"`
}

// NodeToRecord strips the store-local ID from a node.
func NodeToRecord(n *core.Node) NodeRecord {
	return NodeRecord{
		UUID:       n.UUID,
		Type:       n.Type,
		Label:      n.Label,
		CTime:      n.CTime,
		MTime:      n.MTime,
		Attributes: n.Attributes,
		Extras:     n.Extras,
		UserEmail:  n.UserEmail,
	}
}

// ToNode converts a record back into a domain node.
func (r NodeRecord) ToNode() *core.Node {
	return &core.Node{
		UUID:       r.UUID,
		Type:       r.Type,
		Label:      r.Label,
		CTime:      r.CTime,
		MTime:      r.MTime,
		Attributes: r.Attributes,
		Extras:     r.Extras,
		UserEmail:  r.UserEmail,
	}
}

// LinkToRecord converts a domain link to its wire form.
func LinkToRecord(l *core.Link) LinkRecord {
	return LinkRecord{Source: l.Source, Target: l.Target, Type: string(l.Type), Label: l.Label}
}

// ToLink converts a record back into a domain link.
func (r LinkRecord) ToLink() *core.Link {
	return &core.Link{Source: r.Source, Target: r.Target, Type: core.LinkType(r.Type), Label: r.Label}
}

// CommentToRecord converts a domain comment to its wire form.
func CommentToRecord(c *core.Comment) CommentRecord {
	return CommentRecord{
		UUID:      c.UUID,
		NodeUUID:  c.NodeUUID,
		CTime:     c.CTime,
		MTime:     c.MTime,
		Content:   c.Content,
		UserEmail: c.UserEmail,
	}
}

// ToComment converts a record back into a domain comment.
func (r CommentRecord) ToComment() *core.Comment {
	return &core.Comment{
		UUID:      r.UUID,
		NodeUUID:  r.NodeUUID,
		CTime:     r.CTime,
		MTime:     r.MTime,
		Content:   r.Content,
		UserEmail: r.UserEmail,
	}
}

// UserToRecord converts a domain user to its wire form.
func UserToRecord(u *core.User) UserRecord {
	return UserRecord{
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Institution: u.Institution,
	}
}

// ToUser converts a record back into a domain user.
func (r UserRecord) ToUser() *core.User {
	return &core.User{
		Email:       r.Email,
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		Institution: r.Institution,
	}
}
