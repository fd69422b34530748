package syncconfig

import (
	"path"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/xreposync/internal/model"
)

// Mover maps a path of the source repo to a path of the target repo. ok is
// false when the path has no image in the target repo.
type Mover func(p string) (moved string, ok bool)

// BookmarkRenamer maps a source bookmark to a target bookmark. ok is false
// when the bookmark must not be mirrored.
type BookmarkRenamer func(b model.BookmarkKey) (renamed model.BookmarkKey, ok bool)

type prefixRule struct {
	from string
	to   string
}

// cleanPrefix normalizes a configured prefix. The empty prefix stands for
// the repo root.
func cleanPrefix(p string) string {
	p = strings.Trim(norm.NFC.String(p), "/")
	if p == "" {
		return ""
	}
	return path.Clean(p)
}

// underPrefix reports whether p equals prefix or lies below it, and returns
// the remainder.
func underPrefix(p, prefix string) (rest string, ok bool) {
	if prefix == "" {
		return p, true
	}
	if p == prefix {
		return "", true
	}
	if strings.HasPrefix(p, prefix+"/") {
		return p[len(prefix)+1:], true
	}
	return "", false
}

func joinPrefix(prefix, rest string) string {
	switch {
	case prefix == "":
		return rest
	case rest == "":
		return prefix
	default:
		return prefix + "/" + rest
	}
}

// sortRules orders rules so that the longest source prefix is tried first.
func sortRules(rules []prefixRule) {
	sort.Slice(rules, func(i, j int) bool {
		if len(rules[i].from) != len(rules[j].from) {
			return len(rules[i].from) > len(rules[j].from)
		}
		return rules[i].from < rules[j].from
	})
}

// applyRules returns the image of p under the first matching rule. A rule
// with an empty target drops everything under its source prefix.
func applyRules(rules []prefixRule, p string) (string, bool, bool) {
	for _, r := range rules {
		if rest, ok := underPrefix(p, r.from); ok {
			if r.to == "" {
				return "", false, true
			}
			moved := joinPrefix(r.to, rest)
			return moved, moved != "", true
		}
	}
	return "", false, false
}

// newSmallToLargeMover compiles the forward mover of a small repo.
func newSmallToLargeMover(cfg model.SmallRepoCommitSyncConfig) Mover {
	rules := make([]prefixRule, 0, len(cfg.Map))
	for small, large := range cfg.Map {
		rules = append(rules, prefixRule{from: cleanPrefix(small), to: cleanPrefix(large)})
	}
	sortRules(rules)
	defaultPrefix := cleanPrefix(cfg.DefaultPrefix)

	return func(p string) (string, bool) {
		p = norm.NFC.String(p)
		if p == "" {
			return "", false
		}
		if moved, ok, matched := applyRules(rules, p); matched {
			return moved, ok
		}
		if cfg.DefaultAction == model.ActionPrependPrefix {
			return joinPrefix(defaultPrefix, p), true
		}
		return p, true
	}
}

// newLargeToSmallMover compiles the inverse of newSmallToLargeMover. A
// large repo path maps back only if the forward mover would have produced
// it, so reverse(forward(s)) == s for every small path s.
func newLargeToSmallMover(cfg model.SmallRepoCommitSyncConfig) Mover {
	rules := make([]prefixRule, 0, len(cfg.Map))
	for small, large := range cfg.Map {
		if cleanPrefix(large) == "" {
			continue
		}
		rules = append(rules, prefixRule{from: cleanPrefix(large), to: cleanPrefix(small)})
	}
	sortRules(rules)
	defaultPrefix := cleanPrefix(cfg.DefaultPrefix)
	forward := newSmallToLargeMover(cfg)

	roundTrips := func(small, large string) bool {
		back, ok := forward(small)
		return ok && back == large
	}

	return func(p string) (string, bool) {
		p = norm.NFC.String(p)
		if p == "" {
			return "", false
		}
		if moved, ok, matched := applyRules(rules, p); matched && ok && roundTrips(moved, p) {
			return moved, true
		}
		small := p
		if cfg.DefaultAction == model.ActionPrependPrefix {
			rest, ok := underPrefix(p, defaultPrefix)
			if !ok || rest == "" {
				return "", false
			}
			small = rest
		}
		if !roundTrips(small, p) {
			return "", false
		}
		return small, true
	}
}

// newSmallToLargeRenamer prefixes every bookmark except the shared ones.
func newSmallToLargeRenamer(prefix string, common []model.BookmarkKey) BookmarkRenamer {
	return func(b model.BookmarkKey) (model.BookmarkKey, bool) {
		if b == "" {
			return "", false
		}
		if containsBookmark(common, b) {
			return b, true
		}
		return model.BookmarkKey(prefix + string(b)), true
	}
}

// newLargeToSmallRenamer strips the small repo prefix. Bookmarks without
// the prefix belong to other repos and are not mirrored.
func newLargeToSmallRenamer(prefix string, common []model.BookmarkKey) BookmarkRenamer {
	return func(b model.BookmarkKey) (model.BookmarkKey, bool) {
		if containsBookmark(common, b) {
			return b, true
		}
		if prefix == "" {
			return b, b != ""
		}
		name, ok := strings.CutPrefix(string(b), prefix)
		if !ok || name == "" {
			return "", false
		}
		return model.BookmarkKey(name), true
	}
}

func containsBookmark(list []model.BookmarkKey, b model.BookmarkKey) bool {
	for _, c := range list {
		if c == b {
			return true
		}
	}
	return false
}
