package watcher

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPathHelpers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		parent, child  string
		strict, loose bool
	}{
		{"a", "a/b", true, true},
		{"a", "a", false, true},
		{"a", "ab", false, false},
		{"a/b", "a/b/c/d", true, true},
		{"", "a", false, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.strict, isParentPath(tt.parent, tt.child), "isParentPath(%q, %q)", tt.parent, tt.child)
		assert.Equal(t, tt.loose, isSameOrParentPath(tt.parent, tt.child), "isSameOrParentPath(%q, %q)", tt.parent, tt.child)
	}

	assert.Equal(t, "x/b", replacePrefix("a/b", "a", "x"))
	assert.Equal(t, "x", replacePrefix("a", "a", "x"))
	assert.Equal(t, "ab/c", replacePrefix("ab/c", "a", "x"))

	assert.Equal(t, "a/b", cleanRel("./a//b/"))
	assert.Equal(t, ".", cleanRel(""))
}

func TestEvent_Ino(t *testing.T) {
	t.Parallel()

	assert.Equal(t, inoKey(7), createdEv(KindFile, "a", 7).Ino())
	assert.Equal(t, inoKey(8), deletedEv(KindFile, "a", 8).Ino())
	assert.Empty(t, NewEvent(ActionDeleted, KindFile, "a").Ino())
}

func TestEvent_MarkUnresolvedClearsChecksum(t *testing.T) {
	t.Parallel()

	e := createdEv(KindFile, "a", 1)
	e.MD5Sum = "sum"
	e.markUnresolved(stepAddChecksum, errors.New("busy"))

	assert.True(t, e.Incomplete())
	assert.Empty(t, e.MD5Sum)
	assert.Equal(t, "addChecksum: busy", e.Unresolved.Error())
}

func TestEvent_Clone(t *testing.T) {
	t.Parallel()

	e := incompleteEv(renamedEv(KindFile, "a", "b", 1))
	c := e.Clone()

	assert.NotEqual(t, e.ID, c.ID)
	assert.Equal(t, e.String(), c.String())
	c.Unresolved.Reason = "changed"
	assert.NotEqual(t, "changed", e.Unresolved.Reason)
	assert.Equal(t, "renamed file a -> b", e.String())
}
