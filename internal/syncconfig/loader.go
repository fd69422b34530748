package syncconfig

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"

	"github.com/roach88/xreposync/internal/model"
)

// Format is the encoding of a configuration file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatCUE  Format = "cue"
)

// FormatForPath picks the format from the file extension. Anything that is
// not ".cue" is read as YAML.
func FormatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".cue") {
		return FormatCUE
	}
	return FormatYAML
}

// File is the on-disk layout of a repo family configuration. Repos are
// listed rather than keyed by id so that YAML and CUE decode the same way.
type File struct {
	LargeRepoID               int32           `yaml:"large_repo_id" json:"large_repo_id"`
	CommonPushrebaseBookmarks []string        `yaml:"common_pushrebase_bookmarks" json:"common_pushrebase_bookmarks"`
	SmallRepos                []SmallRepoFile `yaml:"small_repos" json:"small_repos"`
	CurrentVersion            string          `yaml:"current_version" json:"current_version"`
	Versions                  []VersionFile   `yaml:"versions" json:"versions"`
}

// SmallRepoFile is the static part of one small repo.
type SmallRepoFile struct {
	RepoID         int32  `yaml:"repo_id" json:"repo_id"`
	BookmarkPrefix string `yaml:"bookmark_prefix" json:"bookmark_prefix"`
}

// VersionFile is one config version.
type VersionFile struct {
	Name       string                 `yaml:"name" json:"name"`
	SmallRepos []SmallRepoVersionFile `yaml:"small_repos" json:"small_repos"`
}

// SmallRepoVersionFile is the path remapping of one small repo.
type SmallRepoVersionFile struct {
	RepoID          int32             `yaml:"repo_id" json:"repo_id"`
	DefaultAction   string            `yaml:"default_action" json:"default_action"`
	DefaultPrefix   string            `yaml:"default_prefix" json:"default_prefix"`
	Map             map[string]string `yaml:"map" json:"map"`
	SubmoduleAction string            `yaml:"submodule_action" json:"submodule_action"`
}

// LoadError describes a configuration file that could not be decoded.
type LoadError struct {
	Path    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// Load reads a configuration file and builds a Resolver from it.
func Load(path string) (*Resolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sync config: %w", err)
	}
	f, err := Decode(data, FormatForPath(path), path)
	if err != nil {
		return nil, err
	}
	return f.Build()
}

// Decode parses data in the given format. name is used in error messages.
func Decode(data []byte, format Format, name string) (*File, error) {
	switch format {
	case FormatCUE:
		return decodeCUE(data, name)
	case FormatYAML:
		return decodeYAML(data, name)
	default:
		return nil, fmt.Errorf("unknown sync config format %q", format)
	}
}

func decodeYAML(data []byte, name string) (*File, error) {
	var f File
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		return nil, &LoadError{Path: name, Message: fmt.Sprintf("parse YAML: %v", err)}
	}
	return &f, nil
}

func decodeCUE(data []byte, name string) (*File, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(name))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(name, err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(name, err)
	}
	var f File
	if err := v.Decode(&f); err != nil {
		return nil, formatCUEError(name, err)
	}
	return &f, nil
}

// formatCUEError keeps the position of the first CUE error.
func formatCUEError(name string, err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &LoadError{Path: name, Message: err.Error()}
	}
	first := errs[0]
	le := &LoadError{Path: name, Message: first.Error()}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		le.Pos = positions[0]
	}
	return le
}

// Build converts the file into model types and validates them.
func (f *File) Build() (*Resolver, error) {
	common := &model.CommonCommitSyncConfig{
		LargeRepoID: model.RepositoryID(f.LargeRepoID),
		SmallRepos:  make(map[model.RepositoryID]model.SmallRepoCommonConfig, len(f.SmallRepos)),
	}
	for _, b := range f.CommonPushrebaseBookmarks {
		common.CommonPushrebaseBookmarks = append(common.CommonPushrebaseBookmarks, model.BookmarkKey(b))
	}
	for _, s := range f.SmallRepos {
		id := model.RepositoryID(s.RepoID)
		if _, dup := common.SmallRepos[id]; dup {
			return nil, model.InvalidConfiguration("small repo %s declared twice", id)
		}
		common.SmallRepos[id] = model.SmallRepoCommonConfig{BookmarkPrefix: s.BookmarkPrefix}
	}

	versions := make([]*model.CommitSyncConfig, 0, len(f.Versions))
	for _, vf := range f.Versions {
		cfg := &model.CommitSyncConfig{
			Version:     model.CommitSyncConfigVersion(vf.Name),
			LargeRepoID: common.LargeRepoID,
			SmallRepos:  make(map[model.RepositoryID]model.SmallRepoCommitSyncConfig, len(vf.SmallRepos)),
		}
		for _, s := range vf.SmallRepos {
			id := model.RepositoryID(s.RepoID)
			if _, dup := cfg.SmallRepos[id]; dup {
				return nil, model.InvalidConfiguration("version %s: small repo %s declared twice", vf.Name, id)
			}
			cfg.SmallRepos[id] = model.SmallRepoCommitSyncConfig{
				DefaultAction:   model.DefaultPathAction(s.DefaultAction),
				DefaultPrefix:   s.DefaultPrefix,
				Map:             s.Map,
				SubmoduleAction: model.SubmoduleAction(s.SubmoduleAction),
			}
		}
		versions = append(versions, cfg)
	}

	return NewResolver(common, versions, model.CommitSyncConfigVersion(f.CurrentVersion))
}
