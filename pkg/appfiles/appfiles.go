// Package appfiles stages user-selected files (TLS material, JAAS
// configs, compiled protobuf descriptor sets) into the process's
// app-data directory. It never interprets what it copies;
// interpretation belongs to pkg/security and pkg/protoimport.
package appfiles

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kafkascope/kafkascope/pkg/ingest"
)

// FileKind names the staging subdirectory a file is imported into.
type FileKind string

const (
	KindCACert     FileKind = "ca_certs"
	KindClientCert FileKind = "client_certs"
	KindClientKey  FileKind = "client_keys"
	KindProtoDescriptorSet FileKind = "proto_descriptor_sets"
)

// Store stages files under root, a caller-supplied app-data directory
// (e.g. the user cache dir the CLI resolves at startup).
type Store struct {
	root string
}

// NewStore returns a Store rooted at root, creating it if necessary.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("creating app-data dir %q: %w", root, err)
	}
	return &Store{root: root}, nil
}

// Import copies srcPath into kind's staging subdirectory under the
// store root and returns the destination path. The destination file
// name is preserved but the directory is always root/kind, so the
// returned path can never escape root regardless of srcPath's
// contents.
func (s *Store) Import(srcPath string, kind FileKind) (string, error) {
	dir := filepath.Join(s.root, string(kind))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", ingest.NewConfigError("creating staging dir %q: %v", dir, err)
	}

	dst := filepath.Join(dir, filepath.Base(srcPath))

	if err := copyFile(srcPath, dst); err != nil {
		return "", ingest.NewConfigError("importing %q: %v", srcPath, err)
	}
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
