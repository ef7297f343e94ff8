// Package ignore decides which paths of the synchronized folder are never
// synchronized.
//
// Rules follow the .gitignore conventions: one glob per line, blank lines
// and '#' comments skipped, '!' negates, a leading '/' anchors at the root,
// a trailing '/' restricts the rule to folders, and a rule without a slash
// matches the base name at any depth. A path is also ignored when one of its
// ancestor folders is.
package ignore

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/gobwas/glob"
)

// FileName is the per-folder ignore file read by Load.
const FileName = ".tandemignore"

// DefaultPatterns are always applied before user rules.
var DefaultPatterns = []string{
	".*",

	".dropbox",
	".dropbox.attr",
	".dropbox.cache",

	"*.tmp",
	"*.bak",

	"*~",
	`\#*\#`,

	".~lock.*#",

	".fuse_hidden*",
	".Trash-*",

	"~$*.{doc,xls,ppt}*",

	".DS_Store",
	".DocumentRevisions-V100",
	".fseventsd",
	".Spotlight-V100",
	".TemporaryItems",
	".Trashes",
	".VolumeIcon.icns",
	"Icon\r",

	"*.sw[px]",

	"Thumbs.db",
	"ehthumbs.db",
}

type rule struct {
	raw      string
	glob     glob.Glob
	basename bool
	folder   bool
	negate   bool
}

// Matcher evaluates ignore rules against relative slash paths.
type Matcher struct {
	rules []rule
	fold  bool
}

// New compiles the given rules. Blank lines and comments are skipped.
func New(lines []string) (*Matcher, error) {
	m := &Matcher{fold: runtime.GOOS == "darwin" || runtime.GOOS == "windows"}
	if err := m.add(lines); err != nil {
		return nil, err
	}
	return m, nil
}

// NewDefault compiles DefaultPatterns followed by the given rules.
func NewDefault(lines []string) (*Matcher, error) {
	return New(append(append([]string{}, DefaultPatterns...), lines...))
}

// Load builds a matcher from the default rules, the extra patterns and the
// ignore file found at root (a missing file is not an error).
func Load(root string, extra []string) (*Matcher, error) {
	lines := append([]string{}, extra...)

	f, err := os.Open(filepath.Join(root, FileName))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to open ignore file: %w", err)
	default:
		defer f.Close()
		fileLines, err := readLines(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read ignore file: %w", err)
		}
		lines = append(lines, fileLines...)
	}

	return NewDefault(lines)
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, strings.TrimSuffix(scanner.Text(), "\r"))
	}
	return lines, scanner.Err()
}

func (m *Matcher) add(lines []string) error {
	for _, line := range lines {
		if line == "" || line[0] == '#' {
			continue
		}
		r, err := m.compile(line)
		if err != nil {
			return fmt.Errorf("invalid ignore rule %q: %w", line, err)
		}
		m.rules = append(m.rules, r)
	}
	return nil
}

func (m *Matcher) compile(line string) (rule, error) {
	r := rule{raw: line}
	r.basename = !strings.Contains(line, "/") && !strings.Contains(line, "**")
	if strings.HasPrefix(line, "!") {
		line = line[1:]
		r.negate = true
	}
	line = strings.TrimPrefix(line, "/")
	if strings.HasSuffix(line, "/") {
		line = strings.TrimSuffix(line, "/")
		r.folder = true
	}
	line = strings.TrimRight(line, " \t")
	if m.fold {
		line = strings.ToLower(line)
	}

	g, err := glob.Compile(line, '/')
	if err != nil {
		return rule{}, err
	}
	r.glob = g
	return r, nil
}

// IsIgnored reports whether relPath (slash separated, relative to the
// synchronized root) is ignored.
func (m *Matcher) IsIgnored(relPath string, isFolder bool) bool {
	if m == nil {
		return false
	}
	p := strings.Trim(filepath.ToSlash(relPath), "/")
	if p == "" || p == "." {
		return false
	}
	if m.fold {
		p = strings.ToLower(p)
	}

	ignored := false
	for _, r := range m.rules {
		if r.negate {
			if ignored {
				ignored = !r.match(p, isFolder)
			}
		} else if !ignored {
			ignored = r.match(p, isFolder)
		}
	}
	return ignored
}

// Rules returns the raw rules in evaluation order.
func (m *Matcher) Rules() []string {
	out := make([]string, len(m.rules))
	for i, r := range m.rules {
		out[i] = r.raw
	}
	return out
}

func (r rule) match(p string, isFolder bool) bool {
	for {
		if r.basename && r.glob.Match(path.Base(p)) {
			return true
		}
		if (isFolder || !r.folder) && r.glob.Match(p) {
			return true
		}
		parent := path.Dir(p)
		if parent == "." || parent == "/" {
			return false
		}
		p, isFolder = parent, true
	}
}
