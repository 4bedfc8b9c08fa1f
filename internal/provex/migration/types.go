package migration

// ImportOptions configures how an archive is merged into the
// destination store.
type ImportOptions struct {
	// Group tags every imported node with a destination group label.
	Group string

	// ExtrasNew controls whether newly created nodes get the extras
	// from the archive.
	ExtrasNew ExtrasModeNew

	// ExtrasExisting governs the per-key merge of extras on nodes that
	// already exist in the destination.
	ExtrasExisting ExtrasPolicy

	// Comments controls same-UUID comment resolution.
	Comments CommentMode

	// ResolveAsk answers conflict prompts when ExtrasExisting uses
	// RuleAsk. Required in that case; a batch import without it fails
	// before any mutation.
	ResolveAsk AskResolver

	// RepoDir, when set, receives the repository file blobs carried by
	// the archive, one subdirectory per node UUID.
	RepoDir string
}

// DefaultImportOptions mirrors the historical defaults: policy "kcl",
// extras imported on new nodes, newest comment wins.
func DefaultImportOptions() ImportOptions {
	return ImportOptions{
		ExtrasNew:      ExtrasNewImport,
		ExtrasExisting: DefaultExtrasPolicy(),
		Comments:       CommentModeNewest,
	}
}

// Result summarizes one import run.
type Result struct {
	CreatedNodes     []string // UUIDs of nodes created by this run
	ExistingNodes    []string // UUIDs that were already present
	CreatedLinks     int
	ExistingLinks    int
	CreatedComments  int
	ReplacedComments int
	SkippedComments  int
	Users            int
}
