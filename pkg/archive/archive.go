// Package archive implements the streaming archive codec (C3): packing a
// file or directory tree into a POSIX-USTAR-compatible tar stream, and
// extracting one back onto disk with path sanitization.
package archive

import (
	"archive/tar"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mjvec/hyperstream/pkg/errs"
)

// Metadata is the result of Probe: totals used only for the transfer
// preamble, computed without reading file contents.
type Metadata struct {
	TotalSize   uint64
	FileCount   uint32
	IsDirectory bool
}

// Probe walks sourcePath and computes (totalSize, fileCount, isDirectory)
// without reading any file content. It MUST agree with what Pack actually
// streams for the same sourcePath.
func Probe(sourcePath string) (Metadata, error) {
	info, err := os.Lstat(sourcePath)
	if err != nil {
		return Metadata{}, &errs.IoError{Cause: err}
	}
	if !info.IsDir() {
		if info.Mode()&os.ModeSymlink != 0 {
			return Metadata{}, nil
		}
		return Metadata{TotalSize: uint64(info.Size()), FileCount: 1}, nil
	}

	var m Metadata
	m.IsDirectory = true
	err = filepath.WalkDir(sourcePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == sourcePath {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		if !fi.Mode().IsRegular() {
			return nil
		}
		m.FileCount++
		m.TotalSize += uint64(fi.Size())
		return nil
	})
	if err != nil {
		return Metadata{}, &errs.IoError{Cause: err}
	}
	return m, nil
}

// Pack streams sourcePath as a tar archive. A single file becomes one
// entry named by its basename; a directory is walked recursively and
// entries are named relative to the source's parent, so the source's own
// basename becomes the top-level prefix. Symbolic links, devices, and
// other non-regular entries are skipped. The returned reader must be
// fully drained (or closed on error) by the caller.
func Pack(sourcePath string) (io.ReadCloser, error) {
	info, err := os.Lstat(sourcePath)
	if err != nil {
		return nil, &errs.IoError{Cause: err}
	}

	pr, pw := io.Pipe()
	go func() {
		tw := tar.NewWriter(pw)
		var packErr error
		switch {
		case info.IsDir():
			packErr = packDir(tw, sourcePath)
		case info.Mode()&os.ModeSymlink != 0:
			// skipped, not emitted: same rule packDir applies to symlinks
			// found while walking a directory.
		default:
			packErr = packFile(tw, sourcePath, filepath.Base(sourcePath), info)
		}
		closeErr := tw.Close()
		if packErr == nil {
			packErr = closeErr
		}
		pw.CloseWithError(packErr)
	}()
	return pr, nil
}

func packDir(tw *tar.Writer, sourcePath string) error {
	parent := filepath.Dir(sourcePath)

	// Collect entries first so traversal order is deterministic within
	// one run, independent of the filesystem's own directory order.
	type walked struct {
		abs  string
		rel  string // forward-slash, relative to parent
		info os.FileInfo
	}
	var entries []walked
	err := filepath.Walk(sourcePath, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(parent, p)
		if err != nil {
			return err
		}
		entries = append(entries, walked{abs: p, rel: filepath.ToSlash(rel), info: info})
		return nil
	})
	if err != nil {
		return &errs.IoError{Cause: err}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })

	for _, e := range entries {
		if e.rel == "." {
			continue
		}
		switch {
		case e.info.Mode()&os.ModeSymlink != 0:
			continue
		case e.info.IsDir():
			if err := writeDirEntry(tw, e.rel, e.info); err != nil {
				return err
			}
		case e.info.Mode().IsRegular():
			if err := packFile(tw, e.abs, e.rel, e.info); err != nil {
				return err
			}
		default:
			// sockets, devices, fifos: skipped, not emitted.
		}
	}
	return nil
}

func writeDirEntry(tw *tar.Writer, rel string, info os.FileInfo) error {
	hdr := &tar.Header{
		Name:     rel + "/",
		Typeflag: tar.TypeDir,
		Mode:     int64(info.Mode().Perm()),
		ModTime:  info.ModTime(),
		Size:     0,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return &errs.IoError{Cause: err}
	}
	return nil
}

func packFile(tw *tar.Writer, absPath, relName string, info os.FileInfo) error {
	hdr := &tar.Header{
		Name:     relName,
		Typeflag: tar.TypeReg,
		Mode:     int64(info.Mode().Perm()),
		ModTime:  info.ModTime(),
		Size:     info.Size(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return &errs.IoError{Cause: err}
	}

	f, err := os.Open(absPath)
	if err != nil {
		return &errs.IoError{Cause: err}
	}
	defer f.Close()

	if _, err := io.Copy(tw, f); err != nil {
		return &errs.IoError{Cause: err}
	}
	return nil
}

// Extract consumes a tar stream, materializing files and directories
// under destDir. Every entry name is sanitized before use; an entry that
// would resolve outside destDir fails with errs.UnsafeArchivePathError
// and aborts extraction before any write for that entry.
func Extract(r io.Reader, destDir string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &errs.ArchiveFormatError{Cause: err}
		}

		outPath, err := sanitizedJoin(destDir, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(outPath, os.FileMode(hdr.Mode)|0o700); err != nil {
				return &errs.IoError{Cause: err}
			}
		case tar.TypeReg:
			if err := extractFile(tr, outPath, hdr); err != nil {
				return err
			}
		default:
			// Unknown entry types: consume and discard the body.
			if _, err := io.Copy(io.Discard, tr); err != nil {
				return &errs.IoError{Cause: err}
			}
		}
	}
}

func extractFile(r io.Reader, outPath string, hdr *tar.Header) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return &errs.IoError{Cause: err}
	}

	mode := os.FileMode(hdr.Mode & 0o7777)
	if mode == 0 {
		mode = 0o644
	}
	f, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return &errs.IoError{Cause: err}
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return &errs.IoError{Cause: err}
	}
	return nil
}

// sanitizedJoin rejects any entry name containing a ".." component at all
// — not merely one that would resolve outside destDir after
// normalization — per the wire contract: a ".." component anywhere in
// the name is unsafe and aborts extraction before any write for that
// entry, regardless of where it would otherwise land.
func sanitizedJoin(destDir, name string) (string, error) {
	slash := filepath.ToSlash(name)
	if path.IsAbs(slash) {
		return "", &errs.UnsafeArchivePathError{Name: name}
	}
	// Directory entries carry a trailing slash (see writeDirEntry); strip
	// it before splitting so it isn't mistaken for an empty component.
	trimmed := strings.TrimSuffix(slash, "/")
	if trimmed == "" {
		return "", &errs.UnsafeArchivePathError{Name: name}
	}
	for _, part := range strings.Split(trimmed, "/") {
		if part == ".." || part == "" {
			return "", &errs.UnsafeArchivePathError{Name: name}
		}
	}
	return filepath.Join(destDir, filepath.FromSlash(trimmed)), nil
}
