package images

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"frame-10.jpg", "frame-2.png", "cover.webp", "notes.txt", "a.jpeg"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.jpg"), 0o700))

	files, err := LoadFiles(dir)
	require.NoError(t, err)

	var names []string
	for _, f := range files {
		names = append(names, filepath.Base(f.Path))
	}
	assert.Equal(t, []string{"frame-2.png", "frame-10.jpg", "a.jpeg", "cover.webp"}, names)
	assert.Equal(t, 2, files[0].Frame)
	assert.Equal(t, -1, files[2].Frame)
	assert.Equal(t, []byte("frame-2.png"), files[0].Image.Data)

	single, err := LoadFiles(filepath.Join(dir, "frame-10.jpg"))
	require.NoError(t, err)
	require.Len(t, single, 1)
	assert.Equal(t, 10, single[0].Frame)

	_, err = LoadFiles(filepath.Join(dir, "absent"))
	assert.Error(t, err)

	_, err = LoadFiles(t.TempDir())
	assert.Error(t, err)
}
