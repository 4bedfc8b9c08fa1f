package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/provenlab/provex/internal/provex/core"
)

// Reader exposes the contents of an archive. Compressed archives are
// extracted to a temporary directory that Close removes.
type Reader struct {
	root    string
	format  Format
	cleanup bool
}

// Open detects the container format of path and returns a Reader over
// its contents. The format check happens before anything is extracted,
// so an unrecognized file fails fast.
func Open(path string) (*Reader, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	if format == FormatDir {
		return &Reader{root: path, format: format}, nil
	}

	tmpDir, err := os.MkdirTemp("", "provex-archive-*")
	if err != nil {
		return nil, fmt.Errorf("creating extraction directory: %w", err)
	}

	if err := extract(path, format, tmpDir); err != nil {
		os.RemoveAll(tmpDir)
		return nil, err
	}

	return &Reader{root: tmpDir, format: format, cleanup: true}, nil
}

// Format returns the detected container format.
func (r *Reader) Format() Format { return r.format }

// Root returns the directory holding the extracted archive tree.
func (r *Reader) Root() string { return r.root }

// Close removes the extraction directory if one was created.
func (r *Reader) Close() error {
	if r.cleanup {
		return os.RemoveAll(r.root)
	}
	return nil
}

// Metadata reads and parses metadata.json. A missing or malformed
// metadata file marks the archive as corrupt.
func (r *Reader) Metadata() (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(r.root, metadataFile))
	if err != nil {
		return nil, fmt.Errorf("%w: reading metadata: %v", core.ErrCorruptArchive, err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: parsing metadata: %v", core.ErrCorruptArchive, err)
	}
	if meta.FormatVersion == "" {
		return nil, fmt.Errorf("%w: metadata is missing a format version", core.ErrCorruptArchive)
	}
	return &meta, nil
}

// Nodes reads all node records under nodes/.
func (r *Reader) Nodes() ([]NodeRecord, error) {
	dir := filepath.Join(r.root, nodesDir)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading nodes directory: %w", err)
	}

	var nodes []NodeRecord
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading node file: %w", err)
		}
		var node NodeRecord
		if err := json.Unmarshal(data, &node); err != nil {
			return nil, fmt.Errorf("%w: parsing node %s: %v", core.ErrCorruptArchive, entry.Name(), err)
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// Links reads links.json; a missing file means no links.
func (r *Reader) Links() ([]LinkRecord, error) {
	var links []LinkRecord
	if err := r.readJSON(linksFile, &links); err != nil {
		return nil, err
	}
	return links, nil
}

// Comments reads comments.json; a missing file means no comments.
func (r *Reader) Comments() ([]CommentRecord, error) {
	var comments []CommentRecord
	if err := r.readJSON(commentsFile, &comments); err != nil {
		return nil, err
	}
	return comments, nil
}

// Users reads users.json; a missing file means no users.
func (r *Reader) Users() ([]UserRecord, error) {
	var users []UserRecord
	if err := r.readJSON(usersFile, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// BlobDir returns the repository blob directory for a node, or false
// if the archive carries none.
func (r *Reader) BlobDir(uuid string) (string, bool) {
	dir := filepath.Join(r.root, repoDir, uuid)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", false
	}
	return dir, true
}

func (r *Reader) readJSON(name string, target any) error {
	data, err := os.ReadFile(filepath.Join(r.root, name))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: parsing %s: %v", core.ErrCorruptArchive, name, err)
	}
	return nil
}

// extract unpacks a compressed archive into dst.
func extract(path string, format Format, dst string) error {
	switch format {
	case FormatZip:
		return extractZip(path, dst)
	case FormatGzipTar, FormatBzip2Tar:
		return extractTar(path, format, dst)
	default:
		return fmt.Errorf("%w: cannot extract %q", core.ErrUnrecognizedFormat, format)
	}
}

// safeJoin resolves name under dst and rejects entries escaping it.
func safeJoin(dst, name string) (string, error) {
	target := filepath.Join(dst, filepath.Clean(name))
	if !strings.HasPrefix(target, filepath.Clean(dst)+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: entry %q escapes archive root", core.ErrCorruptArchive, name)
	}
	return target, nil
}

func extractZip(path, dst string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("opening zip: %w", err)
	}
	defer zr.Close()

	for _, file := range zr.File {
		target, err := safeJoin(dst, file.Name)
		if err != nil {
			return err
		}
		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("creating directory: %w", err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("creating directory: %w", err)
		}
		src, err := file.Open()
		if err != nil {
			return fmt.Errorf("opening zip entry: %w", err)
		}
		if err := writeFile(target, src); err != nil {
			src.Close()
			return err
		}
		src.Close()
	}
	return nil
}

func extractTar(path string, format Format, dst string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	var decompressed io.Reader
	switch format {
	case FormatGzipTar:
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("opening gzip stream: %w", err)
		}
		defer gz.Close()
		decompressed = gz
	case FormatBzip2Tar:
		decompressed = bzip2.NewReader(f)
	}

	tr := tar.NewReader(decompressed)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading tar: %w", err)
		}

		target, err := safeJoin(dst, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("creating directory: %w", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("creating directory: %w", err)
			}
			if err := writeFile(target, tr); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeFile(target string, src io.Reader) error {
	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("writing file: %w", err)
	}
	return out.Close()
}
