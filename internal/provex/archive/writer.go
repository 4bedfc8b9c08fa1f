package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/provenlab/provex/internal/provex/core"
)

// Writer assembles an archive tree in a staging directory and packs it
// into the requested container on Finish. Metadata is written by the
// caller last so the counts are final.
type Writer struct {
	root string
}

// NewWriter creates an empty staging directory.
func NewWriter() (*Writer, error) {
	root, err := os.MkdirTemp("", "provex-export-*")
	if err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(root, nodesDir), 0o755); err != nil {
		os.RemoveAll(root)
		return nil, fmt.Errorf("creating nodes directory: %w", err)
	}
	return &Writer{root: root}, nil
}

// AddNode writes one node record to nodes/<uuid>.json.
func (w *Writer) AddNode(rec NodeRecord) error {
	return w.writeJSON(filepath.Join(nodesDir, rec.UUID+".json"), rec)
}

// AddBlobDir copies a node's repository files into repo/<uuid>.
func (w *Writer) AddBlobDir(uuid, srcDir string) error {
	dst := filepath.Join(w.root, repoDir, uuid)
	return filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading blob: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
}

// WriteLinks writes links.json.
func (w *Writer) WriteLinks(links []LinkRecord) error {
	return w.writeJSON(linksFile, links)
}

// WriteComments writes comments.json.
func (w *Writer) WriteComments(comments []CommentRecord) error {
	return w.writeJSON(commentsFile, comments)
}

// WriteUsers writes users.json.
func (w *Writer) WriteUsers(users []UserRecord) error {
	return w.writeJSON(usersFile, users)
}

// WriteMetadata writes metadata.json. Call it last.
func (w *Writer) WriteMetadata(meta Metadata) error {
	meta.FormatVersion = FormatVersion
	return w.writeJSON(metadataFile, meta)
}

func (w *Writer) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", name, err)
	}
	target := filepath.Join(w.root, name)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// Abort discards the staging directory.
func (w *Writer) Abort() error {
	return os.RemoveAll(w.root)
}

// Finish packs the staged tree into out using the given container
// format and removes the staging directory.
func (w *Writer) Finish(out string, format Format) error {
	defer os.RemoveAll(w.root)

	switch format {
	case FormatDir:
		return os.Rename(w.root, out)
	case FormatZip:
		return w.packZip(out)
	case FormatGzipTar:
		return w.packTarGz(out)
	case FormatBzip2Tar:
		return w.packTarBz2(out)
	default:
		return fmt.Errorf("%w: cannot write %q", core.ErrUnrecognizedFormat, format)
	}
}

func (w *Writer) walkFiles(fn func(rel string, info fs.FileInfo, path string) error) error {
	return filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(rel), info, path)
	})
}

func (w *Writer) packZip(out string) error {
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	err = w.walkFiles(func(rel string, info fs.FileInfo, path string) error {
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = rel
		header.Method = zip.Deflate
		entry, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(entry, src)
		return err
	})
	if err != nil {
		zw.Close()
		return fmt.Errorf("packing zip: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finishing zip: %w", err)
	}
	return f.Close()
}

func (w *Writer) packTar(tw *tar.Writer) error {
	return w.walkFiles(func(rel string, info fs.FileInfo, path string) error {
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = rel
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(tw, src)
		return err
	})
}

func (w *Writer) packTarGz(out string) error {
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	if err := w.packTar(tw); err != nil {
		return fmt.Errorf("packing tar: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("finishing tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("finishing gzip: %w", err)
	}
	return f.Close()
}

// The standard library only decompresses bzip2, so tar.bz2 output
// shells out to the bzip2 tool, matching what the import side can
// read.
func (w *Writer) packTarBz2(out string) error {
	tarPath := out + ".tar"
	f, err := os.Create(tarPath)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}

	tw := tar.NewWriter(f)
	if err := w.packTar(tw); err != nil {
		f.Close()
		os.Remove(tarPath)
		return fmt.Errorf("packing tar: %w", err)
	}
	if err := tw.Close(); err != nil {
		f.Close()
		os.Remove(tarPath)
		return fmt.Errorf("finishing tar: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tarPath)
		return err
	}

	cmd := exec.Command("bzip2", "-f", tarPath)
	if output, err := cmd.CombinedOutput(); err != nil {
		os.Remove(tarPath)
		return fmt.Errorf("compressing with bzip2: %v: %s", err, output)
	}
	return os.Rename(tarPath+".bz2", out)
}
