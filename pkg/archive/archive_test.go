package archive

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/mjvec/hyperstream/pkg/errs"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, content []byte, mode os.FileMode) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, mode))
}

func TestProbeSingleFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "note.txt")
	writeFile(t, p, []byte("hello"), 0o644)

	m, err := Probe(p)
	require.NoError(t, err)
	require.Equal(t, Metadata{TotalSize: 5, FileCount: 1}, m)
}

func TestProbeDirectoryMatchesPackTotals(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "bundle")
	writeFile(t, filepath.Join(root, "a.txt"), []byte("one"), 0o644)
	writeFile(t, filepath.Join(root, "sub", "b.txt"), []byte("two!"), 0o644)
	writeFile(t, filepath.Join(root, "sub", "c.txt"), []byte("three.."), 0o644)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))

	m, err := Probe(root)
	require.NoError(t, err)
	require.True(t, m.IsDirectory)
	require.EqualValues(t, 3, m.FileCount)
	require.EqualValues(t, len("one")+len("two!")+len("three.."), m.TotalSize)

	rc, err := Pack(root)
	require.NoError(t, err)
	wire, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	tr := tar.NewReader(bytes.NewReader(wire))
	var packedFiles, packedBytes int
	sawEmptyDir := false
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if hdr.Typeflag == tar.TypeReg {
			packedFiles++
			packedBytes += int(hdr.Size)
		}
		if hdr.Typeflag == tar.TypeDir && filepath.Base(hdr.Name) == "empty" {
			sawEmptyDir = true
		}
	}
	require.Equal(t, int(m.FileCount), packedFiles)
	require.Equal(t, int(m.TotalSize), packedBytes)
	require.True(t, sawEmptyDir, "empty directories must still be emitted")
}

func TestPackExtractRoundtripDirectory(t *testing.T) {
	src := t.TempDir()
	root := filepath.Join(src, "project")
	writeFile(t, filepath.Join(root, "README.md"), []byte("# hi"), 0o644)
	writeFile(t, filepath.Join(root, "bin", "run.sh"), []byte("#!/bin/sh\necho hi\n"), 0o755)

	rc, err := Pack(root)
	require.NoError(t, err)

	dest := t.TempDir()
	require.NoError(t, Extract(rc, dest))

	gotReadme, err := os.ReadFile(filepath.Join(dest, "project", "README.md"))
	require.NoError(t, err)
	require.Equal(t, "# hi", string(gotReadme))

	gotScript, err := os.ReadFile(filepath.Join(dest, "project", "bin", "run.sh"))
	require.NoError(t, err)
	require.Equal(t, "#!/bin/sh\necho hi\n", string(gotScript))

	info, err := os.Stat(filepath.Join(dest, "project", "bin", "run.sh"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestPackSkipsSymlinkSource(t *testing.T) {
	src := t.TempDir()
	target := filepath.Join(src, "target.bin")
	writeFile(t, target, bytes.Repeat([]byte("x"), 4096), 0o644)

	link := filepath.Join(src, "link.bin")
	require.NoError(t, os.Symlink(target, link))

	rc, err := Pack(link)
	require.NoError(t, err)
	wire, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	tr := tar.NewReader(bytes.NewReader(wire))
	_, nextErr := tr.Next()
	require.ErrorIs(t, nextErr, io.EOF, "a symlink source must produce an empty archive, not the link target's content")
}

func TestPackExtractRoundtripSingleFile(t *testing.T) {
	src := t.TempDir()
	p := filepath.Join(src, "solo.bin")
	payload := bytes.Repeat([]byte{0xDE, 0xAD, 0xBE, 0xEF}, 1000)
	writeFile(t, p, payload, 0o600)

	rc, err := Pack(p)
	require.NoError(t, err)

	dest := t.TempDir()
	require.NoError(t, Extract(rc, dest))

	got, err := os.ReadFile(filepath.Join(dest, "solo.bin"))
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func tarFromEntries(t *testing.T, names []string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, name := range names {
		hdr := &tar.Header{Name: name, Typeflag: tar.TypeReg, Mode: 0o644, Size: 4}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write([]byte("evil"))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func TestExtractRejectsDegenerateEntryName(t *testing.T) {
	wire := tarFromEntries(t, []string{".."})
	dest := t.TempDir()

	err := Extract(bytes.NewReader(wire), dest)
	var unsafe *errs.UnsafeArchivePathError
	require.ErrorAs(t, err, &unsafe)
}

func TestExtractRejectsTraversalEntryBeforeAnyWrite(t *testing.T) {
	wire := tarFromEntries(t, []string{"../etc/evil"})
	dest := t.TempDir()

	err := Extract(bytes.NewReader(wire), dest)
	var unsafe *errs.UnsafeArchivePathError
	require.ErrorAs(t, err, &unsafe)
	require.Equal(t, "../etc/evil", unsafe.Name)

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	require.Empty(t, entries, "destination directory must be unchanged")
}

func TestExtractRejectsTraversalAnywhereInPath(t *testing.T) {
	wire := tarFromEntries(t, []string{"a/../../b"})
	dest := t.TempDir()

	err := Extract(bytes.NewReader(wire), dest)
	var unsafe *errs.UnsafeArchivePathError
	require.ErrorAs(t, err, &unsafe)
}

func TestExtractRejectsAbsolutePath(t *testing.T) {
	wire := tarFromEntries(t, []string{"/etc/evil"})
	dest := t.TempDir()

	err := Extract(bytes.NewReader(wire), dest)
	var unsafe *errs.UnsafeArchivePathError
	require.ErrorAs(t, err, &unsafe)
}

func TestExtractMalformedTarFails(t *testing.T) {
	dest := t.TempDir()
	err := Extract(bytes.NewReader([]byte("not a tar stream at all")), dest)
	require.Error(t, err)
}
