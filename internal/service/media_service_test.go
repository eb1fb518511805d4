package service

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/config"
)

func TestSaveDataURL(t *testing.T) {
	dir := t.TempDir()
	s := NewMediaService(&config.Config{UploadDir: dir, MaxUploadBytes: 1024})

	raw := []byte("\x89PNG fake frame")
	url, err := s.SaveDataURL("screenshots/abc", "data:image/png;base64,"+base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "/uploads/screenshots/abc/"))
	assert.True(t, strings.HasSuffix(url, ".png"))

	stored, err := os.ReadFile(filepath.Join(dir, strings.TrimPrefix(url, "/uploads/")))
	require.NoError(t, err)
	assert.Equal(t, raw, stored)
}

func TestSaveDataURLRejects(t *testing.T) {
	s := NewMediaService(&config.Config{UploadDir: t.TempDir(), MaxUploadBytes: 8})

	_, err := s.SaveDataURL("x", "not a data url")
	assert.ErrorIs(t, err, ErrInvalidDataURL)

	_, err = s.SaveDataURL("x", "data:image/png,plain")
	assert.ErrorIs(t, err, ErrInvalidDataURL)

	_, err = s.SaveDataURL("x", "data:text/html;base64,PGgxPg==")
	assert.ErrorIs(t, err, ErrUnsupportedFileType)

	big := base64.StdEncoding.EncodeToString(make([]byte, 64))
	_, err = s.SaveDataURL("x", "data:image/jpeg;base64,"+big)
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

func TestSaveDataURLStaysInsideUploadDir(t *testing.T) {
	dir := t.TempDir()
	s := NewMediaService(&config.Config{UploadDir: dir, MaxUploadBytes: 1024})

	url, err := s.SaveDataURL("../../etc", "data:image/gif;base64,"+base64.StdEncoding.EncodeToString([]byte("GIF89a")))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "/uploads/etc/"))
}
