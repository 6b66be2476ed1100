package sender

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/openmined/backuprelay/internal/utils"
	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFileName is read from the watch root, gitignore syntax
const IgnoreFileName = ".relayignore"

var defaultIgnoreLines = []string{
	"*.tmp",
	"*.part",
	"*.partial",
	"*.crdownload",
}

// FileInfo is one observation of a file on disk
type FileInfo struct {
	Path       string
	Size       int64
	ModifiedAt time.Time
}

// Listing maps absolute path to its observation
type Listing map[string]*FileInfo

// Scanner lists backup files in a root directory
type Scanner struct {
	root       string
	extensions []string
	patterns   []string
	ignore     *gitignore.GitIgnore
}

func NewScanner(root string, extensions, patterns, ignoreLines []string) (*Scanner, error) {
	lines := append(append([]string{}, defaultIgnoreLines...), ignoreLines...)

	var ignore *gitignore.GitIgnore
	ignorePath := filepath.Join(root, IgnoreFileName)
	if utils.FileExists(ignorePath) {
		var err error
		ignore, err = gitignore.CompileIgnoreFileAndLines(ignorePath, lines...)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", ignorePath, err)
		}
		slog.Info("ignore file loaded", "path", ignorePath)
	} else {
		ignore = gitignore.CompileIgnoreLines(lines...)
	}

	return &Scanner{
		root:       root,
		extensions: normalizeExtensions(extensions),
		patterns:   patterns,
		ignore:     ignore,
	}, nil
}

func (s *Scanner) Root() string {
	return s.root
}

// Scan lists the files directly in the root. Subdirectories are not entered:
// the receiver keys archives by base name, so two nested files with the same
// name would overwrite each other there. Failing to read the root is an error.
func (s *Scanner) Scan() (Listing, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", s.root, err)
	}

	listing := make(Listing)
	for _, d := range entries {
		name := d.Name()
		if utils.IsHidden(name) || !d.Type().IsRegular() {
			continue
		}
		if !s.Matches(name) {
			continue
		}

		info, err := d.Info()
		if err != nil {
			// removed between readdir and stat
			slog.Debug("scan stat", "name", name, "error", err)
			continue
		}

		path := filepath.Join(s.root, name)
		listing[path] = &FileInfo{
			Path:       path,
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		}
	}

	return listing, nil
}

// Matches reports whether a name in the root is a backup file
func (s *Scanner) Matches(relPath string) bool {
	if s.ignore != nil && s.ignore.MatchesPath(relPath) {
		return false
	}

	base := strings.ToLower(filepath.Base(relPath))
	for _, ext := range s.extensions {
		if strings.HasSuffix(base, ext) && len(base) > len(ext) {
			return true
		}
	}

	for _, pattern := range s.patterns {
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return true
		}
	}
	return false
}

// Accepts applies the rules Scan uses to a slash-separated path relative to the root
func (s *Scanner) Accepts(relPath string) bool {
	if strings.Contains(relPath, "/") || utils.IsHidden(relPath) {
		return false
	}
	return s.Matches(relPath)
}
