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

// Package recordstore persists enumerated objects locally, one single-file
// append-only SQLite store per object class, each row a msgpack blob.
package recordstore

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/multierr"
)

const createTableStmt = `CREATE TABLE IF NOT EXISTS results
	(id INTEGER PRIMARY KEY AUTOINCREMENT,
	result BLOB)`

// Store appends records to per-class files under Dir. Writes to one class
// are serialized; distinct classes append independently.
type Store struct {
	dir string

	mu    sync.Mutex
	files map[string]*classFile
}

type classFile struct {
	mu sync.Mutex
	db *sql.DB
}

func New(dir string) *Store {
	return &Store{
		dir:   dir,
		files: make(map[string]*classFile),
	}
}

// Dir returns the directory records are written to.
func (s *Store) Dir() string {
	return s.dir
}

// Append encodes record as msgpack and appends it to class.sqlite, creating
// the file and its results table on first use.
func (s *Store) Append(ctx context.Context, class string, record any) error {
	blob, err := msgpack.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode %s record: %w", class, err)
	}

	cf, err := s.file(class)
	if err != nil {
		return err
	}

	cf.mu.Lock()
	defer cf.mu.Unlock()
	if _, err := cf.db.ExecContext(ctx, "INSERT INTO results (result) VALUES (?)", blob); err != nil {
		return fmt.Errorf("failed to append %s record: %w", class, err)
	}
	return nil
}

func (s *Store) file(class string) (*classFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cf, ok := s.files[class]; ok {
		return cf, nil
	}

	path := filepath.Join(s.dir, class+".sqlite")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store %s: %w", path, err)
	}
	// A single writer owns each file; more connections just contend.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(createTableStmt); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize record store %s: %w", path, err)
	}

	cf := &classFile{db: db}
	s.files[class] = cf
	return cf, nil
}

// Close closes every open class file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs error
	for class, cf := range s.files {
		if err := cf.db.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to close %s: %w", class, err))
		}
		delete(s.files, class)
	}
	return errs
}
