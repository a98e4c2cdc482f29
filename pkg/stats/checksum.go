package stats

import (
	"crypto/md5" //nolint:gosec // content fingerprint, not a security boundary
	"encoding/hex"
	"errors"
	"io"
	"os"

	"github.com/ajitpratap0/geomirror/pkg/mirrorerrors"
)

// checksumBlockSize is the size of each read folded into the digest
const checksumBlockSize = 4096

// Checksum returns the lowercase hex MD5 digest of the file at path
func Checksum(path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec
	if err != nil {
		return "", mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeFile, "failed to open file for checksum").
			WithDetail("path", path)
	}
	defer f.Close()

	sum, err := ChecksumReader(f)
	if err != nil {
		return "", mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeFile, "failed to checksum file").
			WithDetail("path", path)
	}
	return sum, nil
}

// ChecksumReader digests r block by block
func ChecksumReader(r io.Reader) (string, error) {
	h := md5.New() //nolint:gosec
	buf := make([]byte, checksumBlockSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
