package migration

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/provenlab/provex/internal/provex/core"
)

// KeepRule says what happens to an extra present only on the existing
// node.
type KeepRule string

const (
	RuleKeep KeepRule = "keep"
	RuleDrop KeepRule = "drop"
)

// NewKeyRule says what happens to an extra present only in the
// incoming record.
type NewKeyRule string

const (
	RuleCreate NewKeyRule = "create"
	RuleIgnore NewKeyRule = "ignore"
)

// ConflictRule says what happens when both sides carry the key with
// differing values.
type ConflictRule string

const (
	RuleKeepExisting ConflictRule = "keep-existing"
	RuleOverwrite    ConflictRule = "overwrite"
	RuleDelete       ConflictRule = "delete"
	RuleAsk          ConflictRule = "ask"
)

// ExtrasPolicy is the explicit form of the historical 3-letter policy
// code. Every (presence, presence, equal?) combination maps to exactly
// one outcome.
type ExtrasPolicy struct {
	OnExistingOnly KeepRule
	OnIncomingOnly NewKeyRule
	OnConflict     ConflictRule
}

// DefaultExtrasPolicy keeps existing-only keys, creates incoming-only
// keys and leaves the old value on conflict ("kcl").
func DefaultExtrasPolicy() ExtrasPolicy {
	return ExtrasPolicy{
		OnExistingOnly: RuleKeep,
		OnIncomingOnly: RuleCreate,
		OnConflict:     RuleKeepExisting,
	}
}

// ParseExtrasPolicy converts a 3-letter code. Letter one is k (keep)
// or n (drop), letter two is c (create) or n (ignore), letter three is
// l (leave old), u (update), d (delete) or a (ask).
func ParseExtrasPolicy(code string) (ExtrasPolicy, error) {
	if len(code) != 3 {
		return ExtrasPolicy{}, fmt.Errorf("policy code must be 3 characters, got %q", code)
	}

	var policy ExtrasPolicy
	switch code[0] {
	case 'k':
		policy.OnExistingOnly = RuleKeep
	case 'n':
		policy.OnExistingOnly = RuleDrop
	default:
		return ExtrasPolicy{}, fmt.Errorf("invalid existing-key letter %q in policy %q", code[0], code)
	}

	switch code[1] {
	case 'c':
		policy.OnIncomingOnly = RuleCreate
	case 'n':
		policy.OnIncomingOnly = RuleIgnore
	default:
		return ExtrasPolicy{}, fmt.Errorf("invalid new-key letter %q in policy %q", code[1], code)
	}

	switch code[2] {
	case 'l':
		policy.OnConflict = RuleKeepExisting
	case 'u':
		policy.OnConflict = RuleOverwrite
	case 'd':
		policy.OnConflict = RuleDelete
	case 'a':
		policy.OnConflict = RuleAsk
	default:
		return ExtrasPolicy{}, fmt.Errorf("invalid conflict letter %q in policy %q", code[2], code)
	}

	return policy, nil
}

// AskResolver decides a single conflicting key. It must return one of
// RuleKeepExisting, RuleOverwrite or RuleDelete.
type AskResolver func(key string, existing, incoming any) (ConflictRule, error)

// MergeExtras merges the extras of an already-stored node with the
// incoming archive record for the same UUID. It is a pure function of
// its inputs: keys are processed in sorted order and equal values are
// always kept as-is.
func MergeExtras(existing, incoming map[string]any, policy ExtrasPolicy, ask AskResolver) (map[string]any, error) {
	if policy.OnConflict == RuleAsk && ask == nil {
		return nil, core.ErrNonInteractive
	}

	keys := make(map[string]struct{}, len(existing)+len(incoming))
	for k := range existing {
		keys[k] = struct{}{}
	}
	for k := range incoming {
		keys[k] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	merged := make(map[string]any, len(keys))
	for _, key := range sorted {
		oldVal, inExisting := existing[key]
		newVal, inIncoming := incoming[key]

		switch {
		case inExisting && !inIncoming:
			if policy.OnExistingOnly == RuleKeep {
				merged[key] = oldVal
			}

		case !inExisting && inIncoming:
			if policy.OnIncomingOnly == RuleCreate {
				merged[key] = newVal
			}

		default:
			if reflect.DeepEqual(oldVal, newVal) {
				merged[key] = oldVal
				continue
			}
			rule := policy.OnConflict
			if rule == RuleAsk {
				var err error
				rule, err = ask(key, oldVal, newVal)
				if err != nil {
					return nil, fmt.Errorf("resolving conflict on %q: %w", key, err)
				}
			}
			switch rule {
			case RuleKeepExisting:
				merged[key] = oldVal
			case RuleOverwrite:
				merged[key] = newVal
			case RuleDelete:
				// Key omitted.
			default:
				return nil, fmt.Errorf("invalid conflict resolution %q for key %q", rule, key)
			}
		}
	}

	return merged, nil
}

// CommentMode controls what happens when a comment UUID already exists
// in the destination.
type CommentMode string

const (
	// CommentModeNewest keeps whichever side has the later mtime.
	CommentModeNewest CommentMode = "newest"
	// CommentModeOverwrite always takes the incoming comment.
	CommentModeOverwrite CommentMode = "overwrite"
)

// ParseCommentMode validates a comment mode name.
func ParseCommentMode(s string) (CommentMode, error) {
	switch CommentMode(s) {
	case CommentModeNewest, CommentModeOverwrite:
		return CommentMode(s), nil
	}
	return "", fmt.Errorf("invalid comment mode %q", s)
}

// takeIncoming reports whether the incoming comment should replace the
// existing one under the given mode.
func takeIncoming(existing, incoming *core.Comment, mode CommentMode) bool {
	if mode == CommentModeOverwrite {
		return true
	}
	return incoming.MTime.After(existing.MTime)
}

// ExtrasModeNew controls whether newly created nodes get extras at
// all.
type ExtrasModeNew string

const (
	ExtrasNewImport ExtrasModeNew = "import"
	ExtrasNewNone   ExtrasModeNew = "none"
)

// ParseExtrasModeNew validates an extras-mode-new name.
func ParseExtrasModeNew(s string) (ExtrasModeNew, error) {
	switch ExtrasModeNew(s) {
	case ExtrasNewImport, ExtrasNewNone:
		return ExtrasModeNew(s), nil
	}
	return "", fmt.Errorf("invalid extras mode %q", s)
}
