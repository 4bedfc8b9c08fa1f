package migration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/provenlab/provex/internal/provex/archive"
	"github.com/provenlab/provex/internal/provex/core"
	"github.com/provenlab/provex/internal/provex/storage"
)

// ExportOptions configures an export run.
type ExportOptions struct {
	// Format selects the output container. Defaults to zip.
	Format archive.Format

	// IncludeComments exports the comments of every exported node.
	IncludeComments bool

	// IncludeExtras exports node extras; attributes always travel.
	IncludeExtras bool

	// RepoDir, when set, is searched for per-UUID blob directories to
	// bundle into the archive.
	RepoDir string
}

// DefaultExportOptions exports comments and extras as a zip archive.
func DefaultExportOptions() ExportOptions {
	return ExportOptions{
		Format:          archive.FormatZip,
		IncludeComments: true,
		IncludeExtras:   true,
	}
}

// Export writes the provenance closure of the seed nodes to out.
//
// Traversal walks backward: for every exported node all incoming links
// (its inputs, its creator, its caller) are followed and their sources
// exported too. Outgoing links to nodes outside the selection are not
// followed, so downstream consumers of an exported result stay out of
// the archive.
func Export(ctx context.Context, backend storage.Backend, out string, seeds []string, opts ExportOptions, log *zap.Logger) (*archive.Metadata, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Format == "" {
		opts.Format = archive.FormatZip
	}

	selected, links, err := collectClosure(ctx, backend, seeds)
	if err != nil {
		return nil, err
	}
	log.Info("exporting",
		zap.Int("seeds", len(seeds)),
		zap.Int("nodes", len(selected)),
		zap.Int("links", len(links)))

	writer, err := archive.NewWriter()
	if err != nil {
		return nil, err
	}

	meta, err := writeArchive(ctx, backend, writer, selected, links, opts)
	if err != nil {
		writer.Abort()
		return nil, err
	}

	if err := writer.Finish(out, opts.Format); err != nil {
		return nil, fmt.Errorf("writing archive: %w", err)
	}
	return meta, nil
}

// collectClosure walks backward from the seeds and returns the nodes
// to export plus every link between them.
func collectClosure(ctx context.Context, backend storage.Backend, seeds []string) ([]*core.Node, []*core.Link, error) {
	nodes := backend.Nodes()
	linksCol := backend.Links()

	visited := make(map[string]*core.Node)
	var links []*core.Link
	seenLink := make(map[string]struct{})

	queue := make([]string, 0, len(seeds))
	for _, seed := range seeds {
		queue = append(queue, seed)
	}

	for len(queue) > 0 {
		uuid := queue[0]
		queue = queue[1:]
		if _, ok := visited[uuid]; ok {
			continue
		}

		node, err := nodes.Get(ctx, uuid)
		if err != nil {
			return nil, nil, fmt.Errorf("loading node %s: %w", uuid, err)
		}
		visited[uuid] = node

		incoming, err := linksCol.ListTo(ctx, uuid)
		if err != nil {
			return nil, nil, fmt.Errorf("loading links of %s: %w", uuid, err)
		}
		for _, link := range incoming {
			key := link.Source + "|" + link.Target + "|" + string(link.Type) + "|" + link.Label
			if _, ok := seenLink[key]; !ok {
				seenLink[key] = struct{}{}
				links = append(links, link)
			}
			if _, ok := visited[link.Source]; !ok {
				queue = append(queue, link.Source)
			}
		}
	}

	ordered := make([]*core.Node, 0, len(visited))
	for _, node := range visited {
		ordered = append(ordered, node)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].UUID < ordered[j].UUID })
	return ordered, links, nil
}

func writeArchive(ctx context.Context, backend storage.Backend, writer *archive.Writer, selected []*core.Node, links []*core.Link, opts ExportOptions) (*archive.Metadata, error) {
	meta := archive.Metadata{
		FormatVersion: archive.FormatVersion,
		Created:       time.Now().UTC(),
	}

	emails := make(map[string]struct{})
	for _, node := range selected {
		rec := archive.NodeToRecord(node)
		if !opts.IncludeExtras {
			rec.Extras = nil
		}
		if err := writer.AddNode(rec); err != nil {
			return nil, fmt.Errorf("writing node %s: %w", node.UUID, err)
		}
		meta.Nodes++
		if node.UserEmail != "" {
			emails[node.UserEmail] = struct{}{}
		}

		if opts.RepoDir != "" {
			blobDir := filepath.Join(opts.RepoDir, node.UUID)
			if info, err := os.Stat(blobDir); err == nil && info.IsDir() {
				if err := writer.AddBlobDir(node.UUID, blobDir); err != nil {
					return nil, fmt.Errorf("bundling blobs for %s: %w", node.UUID, err)
				}
			}
		}
	}

	linkRecords := make([]archive.LinkRecord, 0, len(links))
	for _, link := range links {
		linkRecords = append(linkRecords, archive.LinkToRecord(link))
	}
	if err := writer.WriteLinks(linkRecords); err != nil {
		return nil, fmt.Errorf("writing links: %w", err)
	}
	meta.Links = len(linkRecords)

	if opts.IncludeComments {
		var commentRecords []archive.CommentRecord
		for _, node := range selected {
			comments, err := backend.Comments().ListForNode(ctx, node.UUID)
			if err != nil {
				return nil, fmt.Errorf("loading comments of %s: %w", node.UUID, err)
			}
			for _, comment := range comments {
				commentRecords = append(commentRecords, archive.CommentToRecord(comment))
				if comment.UserEmail != "" {
					emails[comment.UserEmail] = struct{}{}
				}
			}
		}
		if err := writer.WriteComments(commentRecords); err != nil {
			return nil, fmt.Errorf("writing comments: %w", err)
		}
		meta.Comments = len(commentRecords)
	}

	sortedEmails := make([]string, 0, len(emails))
	for email := range emails {
		sortedEmails = append(sortedEmails, email)
	}
	sort.Strings(sortedEmails)

	var userRecords []archive.UserRecord
	for _, email := range sortedEmails {
		users, err := backend.Users().Find(ctx, storage.UserFilter{Email: email})
		if err != nil {
			return nil, fmt.Errorf("loading user %s: %w", email, err)
		}
		for _, user := range users {
			userRecords = append(userRecords, archive.UserToRecord(user))
		}
	}
	if err := writer.WriteUsers(userRecords); err != nil {
		return nil, fmt.Errorf("writing users: %w", err)
	}
	meta.Users = len(userRecords)

	// Metadata goes last so the counts are final.
	if err := writer.WriteMetadata(meta); err != nil {
		return nil, fmt.Errorf("writing metadata: %w", err)
	}
	return &meta, nil
}

// copyTree copies the blob directory src into dstRoot/<uuid>.
func copyTree(src, dstRoot, uuid string) error {
	dst := filepath.Join(dstRoot, uuid)
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
}
