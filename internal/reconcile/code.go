package reconcile

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/picklr-io/fnstack/internal/ir"
)

// Code is a resolved deployment package: either zip bytes or an S3 object.
type Code struct {
	Zip      []byte
	Sha256   string
	S3Bucket string
	S3Key    string
}

// Source identifies the package for change detection. Zip packages are
// identified by content, S3 objects by location.
func (c Code) Source() string {
	if c.S3Bucket != "" {
		return "s3://" + c.S3Bucket + "/" + c.S3Key
	}
	return "sha256:" + c.Sha256
}

// IsS3 reports whether the package is an S3 object.
func (c Code) IsS3() bool { return c.S3Bucket != "" }

// Sha256 fingerprints zip bytes the way the function service reports
// CodeSha256.
func Sha256(zipBytes []byte) string {
	sum := sha256.Sum256(zipBytes)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// LoadCode resolves a code spec. A directory is zipped in memory with
// sorted entries and a fixed timestamp so unchanged sources hash the same.
func LoadCode(spec ir.CodeSpec) (Code, error) {
	if spec.S3Bucket != "" {
		if spec.S3Key == "" {
			return Code{}, fmt.Errorf("code: s3Key is required with s3Bucket")
		}
		return Code{S3Bucket: spec.S3Bucket, S3Key: spec.S3Key}, nil
	}
	if spec.Path == "" {
		return Code{}, fmt.Errorf("code: either path or s3Bucket is required")
	}

	info, err := os.Stat(spec.Path)
	if err != nil {
		return Code{}, fmt.Errorf("code: %w", err)
	}
	var data []byte
	if info.IsDir() {
		data, err = zipDir(spec.Path)
	} else {
		data, err = os.ReadFile(spec.Path)
	}
	if err != nil {
		return Code{}, fmt.Errorf("code %s: %w", spec.Path, err)
	}
	return Code{Zip: data, Sha256: Sha256(data)}, nil
}

var zipEpoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

func zipDir(dir string) ([]byte, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, path := range files {
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		hdr := &zip.FileHeader{Name: filepath.ToSlash(rel), Method: zip.Deflate, Modified: zipEpoch}
		hdr.SetMode(info.Mode().Perm())
		fw, err := w.CreateHeader(hdr)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(data); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
