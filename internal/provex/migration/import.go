package migration

import (
	"context"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"github.com/provenlab/provex/internal/provex/archive"
	"github.com/provenlab/provex/internal/provex/config"
	"github.com/provenlab/provex/internal/provex/core"
	"github.com/provenlab/provex/internal/provex/storage"
)

// groupExtraKey tags imported nodes with their destination group.
const groupExtraKey = "_group"

// ImportData opens the storage backend named by the profile and
// imports the archive at source into it. An unknown engine surfaces as
// an ImportError before anything is read.
func ImportData(ctx context.Context, profile config.Profile, source string, opts ImportOptions, log *zap.Logger) (*Result, error) {
	backend, err := storage.Open(ctx, profile)
	if err != nil {
		return nil, &core.ImportError{Op: "open backend", Err: err}
	}
	defer backend.Close(ctx)

	return Import(ctx, backend, source, opts, log)
}

// Import merges the archive at source into the destination backend.
// All database writes happen in one transaction; any failure leaves
// the destination unchanged. Re-importing the same archive reports
// every node as existing and creates nothing.
func Import(ctx context.Context, backend storage.Backend, source string, opts ImportOptions, log *zap.Logger) (*Result, error) {
	if log == nil {
		log = zap.NewNop()
	}

	// A batch run with an interactive conflict rule and no resolver
	// must fail before any mutation.
	if opts.ExtrasExisting.OnConflict == RuleAsk && opts.ResolveAsk == nil {
		return nil, &core.ImportError{Op: "check options", Err: core.ErrNonInteractive}
	}

	reader, err := archive.Open(source)
	if err != nil {
		return nil, &core.ImportError{Op: "open archive", Err: err}
	}
	defer reader.Close()

	meta, err := reader.Metadata()
	if err != nil {
		return nil, &core.ImportError{Op: "read metadata", Err: err}
	}
	log.Info("importing archive",
		zap.String("source", source),
		zap.String("format", string(reader.Format())),
		zap.String("format_version", meta.FormatVersion),
		zap.Int("nodes", meta.Nodes))

	nodes, err := reader.Nodes()
	if err != nil {
		return nil, &core.ImportError{Op: "read nodes", Err: err}
	}
	links, err := reader.Links()
	if err != nil {
		return nil, &core.ImportError{Op: "read links", Err: err}
	}
	comments, err := reader.Comments()
	if err != nil {
		return nil, &core.ImportError{Op: "read comments", Err: err}
	}
	users, err := reader.Users()
	if err != nil {
		return nil, &core.ImportError{Op: "read users", Err: err}
	}

	if err := validateArchive(ctx, backend, nodes, links, comments); err != nil {
		return nil, &core.ImportError{Op: "validate", Err: err}
	}

	result := &Result{}
	err = backend.InTransaction(ctx, func(tx storage.Tx) error {
		if err := importUsers(ctx, tx, users, result); err != nil {
			return err
		}
		if err := importNodes(ctx, tx, nodes, opts, result); err != nil {
			return err
		}
		if err := importLinks(ctx, tx, links, result); err != nil {
			return err
		}
		return importComments(ctx, tx, comments, opts.Comments, result)
	})
	if err != nil {
		return nil, &core.ImportError{Op: "apply", Err: err}
	}

	// Repository blobs are copied only after the database transaction
	// committed.
	if opts.RepoDir != "" {
		if err := copyBlobs(reader, nodes, opts.RepoDir); err != nil {
			return nil, &core.ImportError{Op: "copy blobs", Err: err}
		}
	}

	log.Info("import finished",
		zap.Int("created_nodes", len(result.CreatedNodes)),
		zap.Int("existing_nodes", len(result.ExistingNodes)),
		zap.Int("created_links", result.CreatedLinks),
		zap.Int("existing_links", result.ExistingLinks))
	return result, nil
}

func importUsers(ctx context.Context, tx storage.Tx, users []archive.UserRecord, result *Result) error {
	for _, rec := range users {
		if err := tx.Users().Store(ctx, rec.ToUser()); err != nil {
			return fmt.Errorf("storing user %s: %w", rec.Email, err)
		}
		result.Users++
	}
	return nil
}

func importNodes(ctx context.Context, tx storage.Tx, nodes []archive.NodeRecord, opts ImportOptions, result *Result) error {
	for i, rec := range nodes {
		rec := rec
		name := fmt.Sprintf("import_node_%d", i)
		err := tx.Savepoint(ctx, name, func() error {
			exists, err := tx.Nodes().Exists(ctx, rec.UUID)
			if err != nil {
				return err
			}

			if exists {
				result.ExistingNodes = append(result.ExistingNodes, rec.UUID)
				return mergeNodeExtras(ctx, tx, rec, opts)
			}

			node := rec.ToNode()
			switch opts.ExtrasNew {
			case ExtrasNewNone:
				node.Extras = nil
			default:
				// ExtrasNewImport keeps the archive extras.
			}
			if opts.Group != "" {
				if node.Extras == nil {
					node.Extras = make(map[string]any, 1)
				}
				node.Extras[groupExtraKey] = opts.Group
			}
			if err := tx.Nodes().Create(ctx, node); err != nil {
				return err
			}
			result.CreatedNodes = append(result.CreatedNodes, rec.UUID)
			return nil
		})
		if err != nil {
			return fmt.Errorf("importing node %s: %w", rec.UUID, err)
		}
	}
	return nil
}

func mergeNodeExtras(ctx context.Context, tx storage.Tx, rec archive.NodeRecord, opts ImportOptions) error {
	existing, err := tx.Nodes().GetExtras(ctx, rec.UUID)
	if err != nil {
		return fmt.Errorf("reading extras: %w", err)
	}
	merged, err := MergeExtras(existing, rec.Extras, opts.ExtrasExisting, opts.ResolveAsk)
	if err != nil {
		return fmt.Errorf("merging extras: %w", err)
	}
	if opts.Group != "" {
		merged[groupExtraKey] = opts.Group
	}
	if reflect.DeepEqual(existing, merged) {
		return nil
	}
	return tx.Nodes().SetExtras(ctx, rec.UUID, merged)
}

func importLinks(ctx context.Context, tx storage.Tx, links []archive.LinkRecord, result *Result) error {
	for _, rec := range links {
		link := rec.ToLink()
		exists, err := tx.Links().Exists(ctx, link)
		if err != nil {
			return fmt.Errorf("checking link %s -> %s: %w", link.Source, link.Target, err)
		}
		if exists {
			result.ExistingLinks++
			continue
		}
		if err := tx.Links().Create(ctx, link); err != nil {
			return fmt.Errorf("creating link %s -> %s: %w", link.Source, link.Target, err)
		}
		result.CreatedLinks++
	}
	return nil
}

func importComments(ctx context.Context, tx storage.Tx, comments []archive.CommentRecord, mode CommentMode, result *Result) error {
	if mode == "" {
		mode = CommentModeNewest
	}
	for _, rec := range comments {
		incoming := rec.ToComment()
		existing, err := tx.Comments().Get(ctx, rec.UUID)
		if err != nil {
			if core.IsNotFound(err) {
				if err := tx.Comments().Create(ctx, incoming); err != nil {
					return fmt.Errorf("creating comment %s: %w", rec.UUID, err)
				}
				result.CreatedComments++
				continue
			}
			return fmt.Errorf("reading comment %s: %w", rec.UUID, err)
		}

		if !takeIncoming(existing, incoming, mode) {
			result.SkippedComments++
			continue
		}
		if err := tx.Comments().Replace(ctx, incoming); err != nil {
			return fmt.Errorf("replacing comment %s: %w", rec.UUID, err)
		}
		result.ReplacedComments++
	}
	return nil
}

func copyBlobs(reader *archive.Reader, nodes []archive.NodeRecord, repoDir string) error {
	for _, rec := range nodes {
		src, ok := reader.BlobDir(rec.UUID)
		if !ok {
			continue
		}
		if err := copyTree(src, repoDir, rec.UUID); err != nil {
			return fmt.Errorf("copying blobs for %s: %w", rec.UUID, err)
		}
	}
	return nil
}
