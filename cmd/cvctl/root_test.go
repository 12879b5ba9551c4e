package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdad-elec/cv-analysis-system/internal/types"
)

func TestReadDocument(t *testing.T) {
	dir := t.TempDir()
	html := filepath.Join(dir, "Ann.HTML")
	require.NoError(t, os.WriteFile(html, []byte("<p>Ann Lee</p>"), 0o644))

	raw, err := readDocument(html)
	require.NoError(t, err)
	assert.Equal(t, types.DocumentTypeHTML, raw.Type)
	assert.Equal(t, "Ann.HTML", raw.Name)
	assert.Equal(t, []byte("<p>Ann Lee</p>"), raw.Data)

	_, err = readDocument(filepath.Join(dir, "notes.txt"))
	assert.ErrorContains(t, err, "unsupported file type")

	_, err = readDocument(filepath.Join(dir, "missing.pdf"))
	assert.Error(t, err)
}

func TestExtractCommand_HTML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cv.html")
	require.NoError(t, os.WriteFile(path, []byte("<html><body><h1>Ann Lee</h1><p>Go developer</p></body></html>"), 0o644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"extract", "--config", filepath.Join(dir, "absent.yaml"), path})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "Ann Lee")
	assert.Contains(t, out.String(), "Go developer")
}

func TestCommandArgs(t *testing.T) {
	assert.Error(t, askCmd.Args(askCmd, []string{"only a question"}))
	assert.NoError(t, askCmd.Args(askCmd, []string{"q", "a.pdf"}))
	assert.Error(t, exportCmd.Args(exportCmd, []string{"out.xlsx"}))
	assert.Error(t, extractCmd.Args(extractCmd, []string{}))
}
