package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var errRenameFailed = errors.New("rename failed")

func tempFiles(t *testing.T, s *Store) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(s.Dir(), s.tempPattern()))
	require.NoError(t, err)
	return matches
}

func TestStore_ReadMissing(t *testing.T) {
	t.Parallel()

	s := NewStore(filepath.Join(t.TempDir(), "cache"))
	_, err := s.ReadSnapshot()
	require.ErrorIs(t, err, ErrNoSnapshot)
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestStore_WriteRead(t *testing.T) {
	t.Parallel()

	s := NewStore(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, s.WriteSnapshot([]byte(`{"version":"1"}`)))

	got, err := s.ReadSnapshot()
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":"1"}`, string(got))
	assert.Empty(t, tempFiles(t, s), "no temp file survives a successful write")

	require.NoError(t, s.WriteSnapshot([]byte(`{"version":"2"}`)))
	got, err = s.ReadSnapshot()
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":"2"}`, string(got))
}

func TestStore_CustomFileName(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := NewStore(dir, WithFileName("foojay.json"))
	assert.Equal(t, filepath.Join(dir, "foojay.json"), s.Path())
	require.NoError(t, s.WriteSnapshot([]byte("[]")))
	assert.FileExists(t, s.Path())
}

func TestStore_FileMode(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("unix permission bits")
	}

	s := NewStore(t.TempDir())
	require.NoError(t, s.WriteSnapshot([]byte("{}")))

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o644), info.Mode().Perm())
}

func TestStore_FailedWriteKeepsPreviousSnapshot(t *testing.T) {
	t.Parallel()

	s := NewStore(t.TempDir())
	require.NoError(t, s.WriteSnapshot([]byte(`{"version":"old"}`)))

	s.rename = func(string, string) error { return errRenameFailed }
	err := s.WriteSnapshot([]byte(`{"version":"new"}`))

	require.ErrorIs(t, err, ErrCacheWrite)
	require.ErrorIs(t, err, errRenameFailed)
	var we *WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "rename", we.Op)
	assert.FileExists(t, we.TempPath, "temp file left for the startup sweep")

	got, err := s.ReadSnapshot()
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":"old"}`, string(got), "final file untouched")

	res, err := s.Sweep(0)
	require.NoError(t, err)
	assert.Equal(t, []string{we.TempPath}, res.Removed)
	assert.NoFileExists(t, we.TempPath)
}

func TestStore_WriteIntoFileFails(t *testing.T) {
	t.Parallel()

	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	s := NewStore(filepath.Join(blocker, "cache"))
	err := s.WriteSnapshot([]byte("{}"))
	require.ErrorIs(t, err, ErrCacheWrite)

	var we *WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "create directory", we.Op)
}

// randomSnapshot builds a realistic, variably sized snapshot document.
func randomSnapshot(t *testing.T) []byte {
	t.Helper()

	m := Metadata{
		Version:     SchemaVersion,
		LastUpdated: time.Now().UTC(),
		Source:      gofakeit.URL(),
	}
	for range gofakeit.Number(1, 300) {
		m.Packages = append(m.Packages, Package{
			ID:           gofakeit.UUID(),
			Distribution: strings.ToLower(gofakeit.Noun()),
			Version:      gofakeit.AppVersion(),
			OS:           "linux",
			Arch:         "x64",
			PackageType:  "jdk",
			DownloadURL:  gofakeit.URL(),
			Checksum:     gofakeit.Sentence(12),
			Size:         int64(gofakeit.Number(1, 1<<30)),
		})
	}

	data, err := json.Marshal(m)
	require.NoError(t, err)
	return data
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestStore_ReadersNeverSeePartialSnapshots(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("rename over an open file is refused on windows")
	}

	s := NewStore(t.TempDir())

	const writes = 40
	payloads := make([][]byte, writes)
	valid := make(map[string]bool, writes+1)
	for i := range payloads {
		payloads[i] = randomSnapshot(t)
		valid[digest(payloads[i])] = true
	}

	initial := randomSnapshot(t)
	valid[digest(initial)] = true
	require.NoError(t, s.WriteSnapshot(initial))

	var done atomic.Bool
	var reads atomic.Int64
	var g errgroup.Group

	g.Go(func() error {
		defer done.Store(true)
		for _, p := range payloads {
			if err := s.WriteSnapshot(p); err != nil {
				return err
			}
		}
		return nil
	})

	for range 4 {
		g.Go(func() error {
			for !done.Load() {
				data, err := s.ReadSnapshot()
				if err != nil {
					return err
				}
				if !valid[digest(data)] {
					return errors.New("reader observed bytes that were never written as a whole snapshot")
				}
				var m Metadata
				if err := json.Unmarshal(data, &m); err != nil {
					return err
				}
				reads.Add(1)
			}
			return nil
		})
	}

	require.NoError(t, g.Wait())
	assert.Positive(t, reads.Load())

	final, err := s.ReadSnapshot()
	require.NoError(t, err)
	assert.Equal(t, payloads[writes-1], final)
	assert.Empty(t, tempFiles(t, s))
}
