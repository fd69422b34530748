package syncconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/xreposync/internal/model"
)

func prefixedConfig() model.SmallRepoCommitSyncConfig {
	return model.SmallRepoCommitSyncConfig{
		DefaultAction: model.ActionPrependPrefix,
		DefaultPrefix: "fbsource",
		Map: map[string]string{
			"shared":          "common/shared",
			"shared/vendored": "third-party",
		},
	}
}

func preservedConfig() model.SmallRepoCommitSyncConfig {
	return model.SmallRepoCommitSyncConfig{
		DefaultAction: model.ActionPreserve,
		Map:           map[string]string{"lib/": "/ovr/lib/"},
	}
}

type moveCase struct {
	in   string
	want string
	ok   bool
}

func runMoveCases(t *testing.T, mover Mover, cases []moveCase) {
	t.Helper()
	for _, tc := range cases {
		got, ok := mover(tc.in)
		assert.Equal(t, tc.ok, ok, "path %q", tc.in)
		assert.Equal(t, tc.want, got, "path %q", tc.in)
	}
}

func TestSmallToLargeMoverPrependPrefix(t *testing.T) {
	runMoveCases(t, newSmallToLargeMover(prefixedConfig()), []moveCase{
		{"README", "fbsource/README", true},
		{"src/main.go", "fbsource/src/main.go", true},
		{"shared", "common/shared", true},
		{"shared/a.txt", "common/shared/a.txt", true},
		{"shared/vendored/x.c", "third-party/x.c", true},
		{"sharedfoo/x", "fbsource/sharedfoo/x", true},
		{"", "", false},
	})
}

func TestLargeToSmallMoverPrependPrefix(t *testing.T) {
	runMoveCases(t, newLargeToSmallMover(prefixedConfig()), []moveCase{
		{"fbsource/README", "README", true},
		{"common/shared/a.txt", "shared/a.txt", true},
		{"third-party/x.c", "shared/vendored/x.c", true},
		// Produced by the vendored rule, never by the shared rule.
		{"common/shared/vendored/x.c", "", false},
		// Would move under the shared mapping, not under the prefix.
		{"fbsource/shared/a.txt", "", false},
		{"fbsource", "", false},
		{"ovrsource/README", "", false},
	})
}

func TestMoversPreserve(t *testing.T) {
	runMoveCases(t, newSmallToLargeMover(preservedConfig()), []moveCase{
		{"src/a.go", "src/a.go", true},
		{"lib/x.go", "ovr/lib/x.go", true},
	})
	runMoveCases(t, newLargeToSmallMover(preservedConfig()), []moveCase{
		{"src/a.go", "src/a.go", true},
		{"ovr/lib/x.go", "lib/x.go", true},
		{"ovr/other.go", "ovr/other.go", true},
		{"lib/x.go", "", false},
	})
}

func TestMoverDropsSubtreesMappedToNothing(t *testing.T) {
	cfg := prefixedConfig()
	cfg.Map["private"] = ""

	runMoveCases(t, newSmallToLargeMover(cfg), []moveCase{
		{"private/key", "", false},
		{"private", "", false},
		{"privateer/x", "fbsource/privateer/x", true},
	})
	runMoveCases(t, newLargeToSmallMover(cfg), []moveCase{
		{"fbsource/README", "README", true},
		{"fbsource/private/key", "", false},
		{"private/key", "", false},
	})
}

func TestMoverRoundTrip(t *testing.T) {
	for _, cfg := range []model.SmallRepoCommitSyncConfig{prefixedConfig(), preservedConfig()} {
		forward := newSmallToLargeMover(cfg)
		reverse := newLargeToSmallMover(cfg)
		for _, p := range []string{"a", "a/b/c", "shared/x", "shared/vendored/y", "lib/z", "lib"} {
			large, ok := forward(p)
			if !ok {
				continue
			}
			back, ok := reverse(large)
			assert.True(t, ok, "reverse of %q (from %q)", large, p)
			assert.Equal(t, p, back)
		}
	}
}

func TestMoverNormalizesUnicode(t *testing.T) {
	mover := newSmallToLargeMover(prefixedConfig())
	got, ok := mover("cafe\u0301.txt")
	assert.True(t, ok)
	assert.Equal(t, "fbsource/caf\u00e9.txt", got)
}

func TestBookmarkRenamers(t *testing.T) {
	common := []model.BookmarkKey{"master"}
	forward := newSmallToLargeRenamer("fbsource/", common)
	reverse := newLargeToSmallRenamer("fbsource/", common)

	b, ok := forward("master")
	assert.True(t, ok)
	assert.Equal(t, model.BookmarkKey("master"), b)

	b, ok = forward("feature")
	assert.True(t, ok)
	assert.Equal(t, model.BookmarkKey("fbsource/feature"), b)

	_, ok = forward("")
	assert.False(t, ok)

	b, ok = reverse("fbsource/feature")
	assert.True(t, ok)
	assert.Equal(t, model.BookmarkKey("feature"), b)

	b, ok = reverse("master")
	assert.True(t, ok)
	assert.Equal(t, model.BookmarkKey("master"), b)

	_, ok = reverse("ovrsource/feature")
	assert.False(t, ok)

	_, ok = reverse("fbsource/")
	assert.False(t, ok)
}
