package migration

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/provenlab/provex/internal/provex/core"
)

func TestParseExtrasPolicy(t *testing.T) {
	tests := []struct {
		code    string
		want    ExtrasPolicy
		wantErr bool
	}{
		{
			code: "kcl",
			want: ExtrasPolicy{RuleKeep, RuleCreate, RuleKeepExisting},
		},
		{
			code: "ncu",
			want: ExtrasPolicy{RuleDrop, RuleCreate, RuleOverwrite},
		},
		{
			code: "knd",
			want: ExtrasPolicy{RuleKeep, RuleIgnore, RuleDelete},
		},
		{
			code: "kca",
			want: ExtrasPolicy{RuleKeep, RuleCreate, RuleAsk},
		},
		{code: "xcl", wantErr: true},
		{code: "kxl", wantErr: true},
		{code: "kcx", wantErr: true},
		{code: "kc", wantErr: true},
		{code: "kclx", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			got, err := ParseExtrasPolicy(tt.code)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseExtrasPolicy(%q): expected error", tt.code)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseExtrasPolicy(%q): %v", tt.code, err)
			}
			if got != tt.want {
				t.Errorf("ParseExtrasPolicy(%q) = %+v, want %+v", tt.code, got, tt.want)
			}
		})
	}
}

func TestMergeExtras(t *testing.T) {
	existing := map[string]any{
		"only_existing": "old",
		"both_equal":    "same",
		"both_differ":   "old",
	}
	incoming := map[string]any{
		"only_incoming": "new",
		"both_equal":    "same",
		"both_differ":   "new",
	}

	tests := []struct {
		name   string
		policy ExtrasPolicy
		want   map[string]any
	}{
		{
			name:   "keep create leave",
			policy: ExtrasPolicy{RuleKeep, RuleCreate, RuleKeepExisting},
			want: map[string]any{
				"only_existing": "old",
				"only_incoming": "new",
				"both_equal":    "same",
				"both_differ":   "old",
			},
		},
		{
			name:   "keep create update",
			policy: ExtrasPolicy{RuleKeep, RuleCreate, RuleOverwrite},
			want: map[string]any{
				"only_existing": "old",
				"only_incoming": "new",
				"both_equal":    "same",
				"both_differ":   "new",
			},
		},
		{
			name:   "keep create delete",
			policy: ExtrasPolicy{RuleKeep, RuleCreate, RuleDelete},
			want: map[string]any{
				"only_existing": "old",
				"only_incoming": "new",
				"both_equal":    "same",
			},
		},
		{
			name:   "drop ignore leave",
			policy: ExtrasPolicy{RuleDrop, RuleIgnore, RuleKeepExisting},
			want: map[string]any{
				"both_equal":  "same",
				"both_differ": "old",
			},
		},
		{
			name:   "drop create update",
			policy: ExtrasPolicy{RuleDrop, RuleCreate, RuleOverwrite},
			want: map[string]any{
				"only_incoming": "new",
				"both_equal":    "same",
				"both_differ":   "new",
			},
		},
		{
			name:   "keep ignore delete",
			policy: ExtrasPolicy{RuleKeep, RuleIgnore, RuleDelete},
			want: map[string]any{
				"only_existing": "old",
				"both_equal":    "same",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MergeExtras(existing, incoming, tt.policy, nil)
			if err != nil {
				t.Fatalf("MergeExtras: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("MergeExtras = %v, want %v", got, tt.want)
			}

			// Determinism: a second run over the same inputs yields the
			// same result.
			again, err := MergeExtras(existing, incoming, tt.policy, nil)
			if err != nil {
				t.Fatalf("MergeExtras (second run): %v", err)
			}
			if !reflect.DeepEqual(got, again) {
				t.Errorf("merge not deterministic: %v != %v", got, again)
			}
		})
	}
}

func TestMergeExtrasAsk(t *testing.T) {
	existing := map[string]any{"key": "old"}
	incoming := map[string]any{"key": "new"}
	policy := ExtrasPolicy{RuleKeep, RuleCreate, RuleAsk}

	// Without a resolver the merge must refuse to guess.
	if _, err := MergeExtras(existing, incoming, policy, nil); !errors.Is(err, core.ErrNonInteractive) {
		t.Fatalf("expected ErrNonInteractive, got %v", err)
	}

	// The resolver decides per key.
	var askedKey string
	resolver := func(key string, oldVal, newVal any) (ConflictRule, error) {
		askedKey = key
		return RuleOverwrite, nil
	}
	got, err := MergeExtras(existing, incoming, policy, resolver)
	if err != nil {
		t.Fatalf("MergeExtras: %v", err)
	}
	if askedKey != "key" {
		t.Errorf("resolver asked about %q, want %q", askedKey, "key")
	}
	if got["key"] != "new" {
		t.Errorf("merged value = %v, want %q", got["key"], "new")
	}

	// Equal values never reach the resolver.
	called := false
	equal := map[string]any{"key": "same"}
	_, err = MergeExtras(equal, map[string]any{"key": "same"}, policy,
		func(string, any, any) (ConflictRule, error) {
			called = true
			return RuleKeepExisting, nil
		})
	if err != nil {
		t.Fatalf("MergeExtras: %v", err)
	}
	if called {
		t.Error("resolver called for equal values")
	}
}

func TestCommentMerge(t *testing.T) {
	t1 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	older := &core.Comment{UUID: "c1", Content: "older", MTime: t1}
	newer := &core.Comment{UUID: "c1", Content: "newer", MTime: t2}

	tests := []struct {
		name     string
		existing *core.Comment
		incoming *core.Comment
		mode     CommentMode
		want     bool
	}{
		{"newest takes later incoming", older, newer, CommentModeNewest, true},
		{"newest keeps later existing", newer, older, CommentModeNewest, false},
		{"newest keeps on equal mtime", older, older, CommentModeNewest, false},
		{"overwrite takes older incoming", newer, older, CommentModeOverwrite, true},
		{"overwrite takes newer incoming", older, newer, CommentModeOverwrite, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := takeIncoming(tt.existing, tt.incoming, tt.mode); got != tt.want {
				t.Errorf("takeIncoming = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseModes(t *testing.T) {
	if _, err := ParseCommentMode("newest"); err != nil {
		t.Errorf("ParseCommentMode(newest): %v", err)
	}
	if _, err := ParseCommentMode("latest"); err == nil {
		t.Error("ParseCommentMode(latest): expected error")
	}
	if _, err := ParseExtrasModeNew("import"); err != nil {
		t.Errorf("ParseExtrasModeNew(import): %v", err)
	}
	if _, err := ParseExtrasModeNew("all"); err == nil {
		t.Error("ParseExtrasModeNew(all): expected error")
	}
}
