/*
Portions Copyright (c) Microsoft Corporation.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package recordstore

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ulikunitz/xz"
)

// Archive packs the files at the top level of dir into dir.tar.xz and
// returns the archive path. The directory itself is left in place; the
// caller decides when to remove it.
func Archive(dir string) (string, error) {
	archivePath := dir + ".tar.xz"
	out, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to create archive %s: %w", archivePath, err)
	}
	defer out.Close()

	xzw, err := xz.NewWriter(out)
	if err != nil {
		return "", fmt.Errorf("failed to create xz writer: %w", err)
	}
	tw := tar.NewWriter(xzw)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := addFile(tw, filepath.Join(dir, entry.Name()), entry.Name()); err != nil {
			return "", err
		}
	}

	if err := tw.Close(); err != nil {
		return "", err
	}
	if err := xzw.Close(); err != nil {
		return "", err
	}
	return archivePath, out.Close()
}

func addFile(tw *tar.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// Extract unpacks a collector archive into a fresh temporary directory and
// returns that directory. Entries with path separators are flattened to
// their base name; archives only ever carry top-level files.
func Extract(archivePath string) (string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive %s: %w", archivePath, err)
	}
	defer f.Close()

	xzr, err := xz.NewReader(f)
	if err != nil {
		return "", fmt.Errorf("%s is not a valid xz archive: %w", archivePath, err)
	}

	dir, err := os.MkdirTemp("", "stormspotter-ingest-")
	if err != nil {
		return "", err
	}

	tr := tar.NewReader(xzr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%s is not a valid tar archive: %w", archivePath, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		dst := filepath.Join(dir, filepath.Base(hdr.Name))
		out, err := os.Create(dst)
		if err != nil {
			return "", err
		}
		if _, err := io.Copy(out, tr); err != nil { //nolint:gosec // trusted archive produced by the collector
			out.Close()
			return "", err
		}
		if err := out.Close(); err != nil {
			return "", err
		}
	}
	return dir, nil
}
