package storage

import (
	"path"
	"runtime"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/mvp-joe/tandem/internal/stater"
)

// DocType is the type of a synchronized document.
type DocType string

const (
	DocFile   DocType = "file"
	DocFolder DocType = "folder"
)

// Metadata is the last known state of a synchronized file or folder.
type Metadata struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	DocType   DocType   `json:"docType"`
	Ino       uint64    `json:"ino,omitempty"`
	FileID    string    `json:"fileid,omitempty"`
	MD5Sum    string    `json:"md5sum,omitempty"`
	Size      int64     `json:"size,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
	Trashed   bool      `json:"trashed,omitempty"`
	// MoveFrom is the source path of a move recorded in the store but not
	// yet applied on the other side.
	MoveFrom string `json:"moveFrom,omitempty"`
	// Local is set once the document has been seen on the local disk.
	Local bool  `json:"local,omitempty"`
	Rev   int64 `json:"rev"`
	Seq   int64 `json:"-"`
}

// IsFolder reports whether the document is a folder.
func (m *Metadata) IsFolder() bool { return m.DocType == DocFolder }

// InodeKey returns the identity key of the local entry, if known.
func (m *Metadata) InodeKey() stater.InodeKey {
	return stater.KeyFor(m.FileID, m.Ino)
}

// Kind maps the document type to the watcher's kind vocabulary.
func (m *Metadata) Kind() stater.Kind {
	if m.IsFolder() {
		return stater.KindDirectory
	}
	return stater.KindFile
}

// Clone returns a shallow copy.
func (m *Metadata) Clone() *Metadata {
	c := *m
	return &c
}

// IDFor returns the document id of a relative path. Ids fold case and
// Unicode normalization on platforms whose filesystems do, so that two
// paths designating the same entry share an id.
func IDFor(p string) string {
	return idFor(runtime.GOOS, p)
}

func idFor(goos, p string) string {
	p = strings.Trim(path.Clean("/"+p), "/")
	switch goos {
	case "darwin":
		return cases.Upper(language.Und).String(norm.NFD.String(p))
	case "windows":
		return cases.Upper(language.Und).String(p)
	default:
		return p
	}
}
