package migration

import (
	"context"
	"fmt"

	"github.com/provenlab/provex/internal/provex/archive"
	"github.com/provenlab/provex/internal/provex/core"
	"github.com/provenlab/provex/internal/provex/storage"
)

// validateArchive checks the structural integrity of archive contents
// before any mutation: node UUIDs unique, link types known, every link
// endpoint and comment reference resolvable against the archive or the
// destination store.
func validateArchive(
	ctx context.Context,
	backend storage.Backend,
	nodes []archive.NodeRecord,
	links []archive.LinkRecord,
	comments []archive.CommentRecord,
) error {
	inArchive := make(map[string]struct{}, len(nodes))
	for _, node := range nodes {
		if node.UUID == "" {
			return fmt.Errorf("%w: node without UUID", core.ErrCorruptArchive)
		}
		if _, dup := inArchive[node.UUID]; dup {
			return fmt.Errorf("%w: duplicate node UUID %s", core.ErrCorruptArchive, node.UUID)
		}
		inArchive[node.UUID] = struct{}{}
	}

	resolvable := func(uuid string) (bool, error) {
		if _, ok := inArchive[uuid]; ok {
			return true, nil
		}
		return backend.Nodes().Exists(ctx, uuid)
	}

	for _, link := range links {
		if !core.LinkType(link.Type).Valid() {
			return fmt.Errorf("%w: link %s -> %s has invalid type %q",
				core.ErrCorruptArchive, link.Source, link.Target, link.Type)
		}
		for _, endpoint := range []string{link.Source, link.Target} {
			ok, err := resolvable(endpoint)
			if err != nil {
				return fmt.Errorf("resolving link endpoint %s: %w", endpoint, err)
			}
			if !ok {
				return fmt.Errorf("%w: link references unknown node %s", core.ErrCorruptArchive, endpoint)
			}
		}
	}

	for _, comment := range comments {
		if comment.UUID == "" {
			return fmt.Errorf("%w: comment without UUID", core.ErrCorruptArchive)
		}
		ok, err := resolvable(comment.NodeUUID)
		if err != nil {
			return fmt.Errorf("resolving comment node %s: %w", comment.NodeUUID, err)
		}
		if !ok {
			return fmt.Errorf("%w: comment %s references unknown node %s",
				core.ErrCorruptArchive, comment.UUID, comment.NodeUUID)
		}
	}

	return nil
}
