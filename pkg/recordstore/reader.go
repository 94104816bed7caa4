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
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/vmihailenco/msgpack/v5"
)

var sqliteMagic = []byte("SQLite format 3\x00")

// IsSQLite reports whether the file at path starts with the SQLite magic.
// Used to pick ingestible files out of an extracted archive.
func IsSQLite(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	header := make([]byte, len(sqliteMagic))
	if _, err := f.Read(header); err != nil {
		return false
	}
	return bytes.Equal(header, sqliteMagic)
}

// Read iterates the results rows of one record store file in id order,
// decoding each msgpack blob into a map and handing it to fn. A decode error
// aborts the iteration; fn errors do too.
func Read(ctx context.Context, path string, fn func(record map[string]any) error) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("failed to open record store %s: %w", path, err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, "SELECT result FROM results ORDER BY id")
	if err != nil {
		return fmt.Errorf("failed to read record store %s: %w", path, err)
	}
	defer rows.Close()

	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return err
		}
		var record map[string]any
		if err := msgpack.Unmarshal(blob, &record); err != nil {
			return fmt.Errorf("failed to decode record from %s: %w", path, err)
		}
		if err := fn(record); err != nil {
			return err
		}
	}
	return rows.Err()
}
