package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeFolderPath(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		delimiter string
		expected  string
	}{
		{"dot delimiter", "INBOX.Work.Projects", ".", "INBOX/Work/Projects"},
		{"slash delimiter", "Work/Projects", "/", "Work/Projects"},
		{"flat namespace", "Archive", "", "Archive"},
		{"trailing delimiter", "Work/", "/", "Work"},
		{"backslash delimiter", `Lists\Go`, `\`, "Lists/Go"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := NormalizeFolderPath(tt.input, tt.delimiter)
			assert.Equal(t, tt.expected, path)
			if tt.delimiter != "" && !strings.HasSuffix(tt.input, tt.delimiter) {
				assert.Equal(t, tt.input, ServerFolderName(path, tt.delimiter))
			}
		})
	}
}

func TestParentFolderPath(t *testing.T) {
	parent, ok := ParentFolderPath("Work/Projects/2024")
	assert.True(t, ok)
	assert.Equal(t, "Work/Projects", parent)

	_, ok = ParentFolderPath("INBOX")
	assert.False(t, ok)

	assert.Equal(t, "2024", FolderLeafName("Work/Projects/2024"))
	assert.Equal(t, "INBOX", FolderLeafName("INBOX"))
}

func TestNormalizeSubject(t *testing.T) {
	assert.Equal(t, "Quarterly numbers", NormalizeSubject("Re: Fwd: RE[2]: Quarterly numbers"))
	assert.Equal(t, "Hello", NormalizeSubject("  Hello "))
	assert.Equal(t, "héll", Truncate("héllo", 4))
}

func TestChunk(t *testing.T) {
	chunks := Chunk([]int{1, 2, 3, 4, 5}, 2)

	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, chunks)
	assert.Len(t, Chunk([]int{1, 2}, 0), 2)
	assert.Empty(t, Chunk([]int{}, 3))
}

func TestAppendUnique(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, AppendUnique([]string{"a"}, "b", "a", "", "c"))
}

func TestMessageIDs(t *testing.T) {
	id := GenerateMessageID("example.com", "acct_1")

	assert.True(t, strings.HasPrefix(id, "<"))
	assert.True(t, strings.HasSuffix(id, "@example.com>"))
	assert.Equal(t, "abc@example.com", NormalizeMessageID(" <abc@example.com> "))
	assert.Regexp(t, `^email_[a-z0-9]{8}$`, GenerateNanoIDWithPrefix("email", 8))
}
