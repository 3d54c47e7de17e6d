package contentstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePathFromURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"simple blog post", "https://example.com/blog/post", "example.com/blog/post.md"},
		{"subdomain nested path", "https://sub.domain.com/a/b/c", "sub.domain.com/a/b/c.md"},
		{"root url", "https://example.com/", "example.com/index.md"},
		{"query string stripped by path only", "https://example.com/page?q=1", "example.com/page.md"},
		{"html extension stripped", "https://example.com/page.html", "example.com/page.md"},
		{"htm extension stripped", "https://example.com/page.htm", "example.com/page.md"},
		{"unsafe characters replaced", "https://example.com/a b/c", "example.com/a_b/c.md"},
		{"collapsed double underscores", "https://example.com/a__b", "example.com/a_b.md"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GeneratePath("doc-id", tt.url))
		})
	}
}

func TestGeneratePathFallsBackToHashSharding(t *testing.T) {
	path := GeneratePath("file:///local/doc.txt", "")
	assert.Regexp(t, `^[0-9a-f]{2}/[0-9a-f]{2}/.+\.md$`, path)
}

func TestGeneratePathSanitizesDocumentIDForHashFallback(t *testing.T) {
	path := GeneratePath("weird/doc:id?name", "")
	assert.NotContains(t, path[6:], "/") // beyond the two hash-prefix segments, no raw slashes survive
	assert.Contains(t, path, "weird_doc_id_name")
}

func TestContentHashIsDeterministic(t *testing.T) {
	h1 := ContentHash([]byte("hello world"))
	h2 := ContentHash([]byte("hello world"))
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	h3 := ContentHash([]byte("different"))
	assert.NotEqual(t, h1, h3)
}

func TestStoreSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)

	relPath, hash, err := store.Save("doc-1", "https://example.com/blog/post", []byte("# Hello"))
	require.NoError(t, err)
	assert.Equal(t, "example.com/blog/post.md", relPath)
	assert.Len(t, hash, 64)

	content, ok, err := store.Load(relPath)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "# Hello", string(content))

	// Confirm no stray temp files were left behind by the atomic write.
	entries, err := os.ReadDir(filepath.Join(dir, "example.com"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "post.md", entries[0].Name())
}

func TestStoreLoadMissingFileReturnsNotOK(t *testing.T) {
	store := New(t.TempDir())
	content, ok, err := store.Load("nope/missing.md")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, content)
}

func TestStoreSaveOverwritesAtomically(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)

	_, _, err := store.Save("doc-1", "https://example.com/page", []byte("v1"))
	require.NoError(t, err)
	_, _, err = store.Save("doc-1", "https://example.com/page", []byte("v2"))
	require.NoError(t, err)

	content, ok, err := store.Load("example.com/page.md")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", string(content))
}
