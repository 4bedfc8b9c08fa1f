package archive

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/provenlab/provex/internal/provex/core"
)

// Format identifies an archive container format.
type Format string

const (
	FormatDir      Format = "dir"
	FormatZip      Format = "zip"
	FormatGzipTar  Format = "tar.gz"
	FormatBzip2Tar Format = "tar.bz2"
)

// Container byte signatures.
var (
	sigZip   = []byte{0x50, 0x4b, 0x03, 0x04}
	sigGzip  = []byte{0x1f, 0x8b}
	sigBzip2 = []byte{0x42, 0x5a, 0x68} // "BZh"
)

// ParseFormat converts a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatDir, FormatZip, FormatGzipTar, FormatBzip2Tar:
		return Format(s), nil
	}
	return "", fmt.Errorf("%w: %q", core.ErrUnrecognizedFormat, s)
}

// DetectFormat inspects the file at path and returns its container
// format. Directories are FormatDir; files are sniffed by signature.
// No match returns core.ErrUnrecognizedFormat.
func DetectFormat(path string) (Format, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("inspecting archive: %w", err)
	}
	if info.IsDir() {
		return FormatDir, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	sig := make([]byte, 4)
	n, err := io.ReadFull(f, sig)
	if err != nil && err != io.ErrUnexpectedEOF {
		return "", fmt.Errorf("reading archive signature: %w", err)
	}
	sig = sig[:n]

	switch {
	case bytes.HasPrefix(sig, sigZip):
		return FormatZip, nil
	case bytes.HasPrefix(sig, sigGzip):
		return FormatGzipTar, nil
	case bytes.HasPrefix(sig, sigBzip2):
		return FormatBzip2Tar, nil
	}
	return "", fmt.Errorf("%w: %s", core.ErrUnrecognizedFormat, path)
}
