// Package bbolt implements the ports.Storage interface using bbolt (embedded B+ tree).
// Each project gets its own top-level bucket holding three sub-buckets:
//
//	files   path -> FileMeta (JSON)
//	symbols path -> []SymbolMeta (gob)
//	names   symbol name -> set of paths declaring it
//
// Writes are transactional: a crash mid-write cannot corrupt previously
// committed data, and the three buckets always agree.
package bbolt

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/corey/tsprism/internal/ports"
)

// Bucket keys
var (
	bucketFiles   = []byte("files")
	bucketSymbols = []byte("symbols")
	bucketNames   = []byte("names")
)

// outline is the gob envelope of a file's symbols.
type outline struct {
	Symbols []*ports.SymbolMeta
}

// Store implements ports.Storage backed by bbolt.
type Store struct {
	db *bolt.DB
}

var _ ports.Storage = (*Store)(nil)

// NewStore opens (or creates) a bbolt database at the given path.
func NewStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bbolt open: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

// projectBuckets creates the project bucket and its sub-buckets.
func projectBuckets(tx *bolt.Tx, projectID string) (files, symbols, names *bolt.Bucket, err error) {
	proj, err := tx.CreateBucketIfNotExists([]byte(projectID))
	if err != nil {
		return nil, nil, nil, err
	}
	if files, err = proj.CreateBucketIfNotExists(bucketFiles); err != nil {
		return nil, nil, nil, err
	}
	if symbols, err = proj.CreateBucketIfNotExists(bucketSymbols); err != nil {
		return nil, nil, nil, err
	}
	if names, err = proj.CreateBucketIfNotExists(bucketNames); err != nil {
		return nil, nil, nil, err
	}
	return files, symbols, names, nil
}

// subBucket returns a read-only sub-bucket, or nil if the project or bucket
// does not exist.
func subBucket(tx *bolt.Tx, projectID string, name []byte) *bolt.Bucket {
	proj := tx.Bucket([]byte(projectID))
	if proj == nil {
		return nil
	}
	return proj.Bucket(name)
}

// SaveFile replaces the stored outline of one file.
func (s *Store) SaveFile(projectID string, file *ports.FileMeta, symbols []*ports.SymbolMeta) error {
	if file == nil {
		return fmt.Errorf("nil file meta")
	}
	if file.Path == "" {
		return fmt.Errorf("file meta has empty path")
	}

	fm := *file
	fm.SymbolCount = len(symbols)
	fileJSON, err := json.Marshal(&fm)
	if err != nil {
		return fmt.Errorf("marshal file: %w", err)
	}
	symData, err := encodeGob(outline{Symbols: symbols})
	if err != nil {
		return fmt.Errorf("encode symbols: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		fb, sb, nb, err := projectBuckets(tx, projectID)
		if err != nil {
			return err
		}
		key := []byte(file.Path)
		if err := unlinkNames(sb, nb, key); err != nil {
			return err
		}
		for name := range symbolNames(symbols) {
			if err := addPath(nb, name, file.Path); err != nil {
				return err
			}
		}
		if err := sb.Put(key, symData); err != nil {
			return err
		}
		return fb.Put(key, fileJSON)
	})
}

// DeleteFile removes a file and its symbols. Missing files are ignored.
func (s *Store) DeleteFile(projectID string, path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		proj := tx.Bucket([]byte(projectID))
		if proj == nil {
			return nil
		}
		fb, sb, nb := proj.Bucket(bucketFiles), proj.Bucket(bucketSymbols), proj.Bucket(bucketNames)
		if fb == nil || sb == nil || nb == nil {
			return nil
		}
		key := []byte(path)
		if err := unlinkNames(sb, nb, key); err != nil {
			return err
		}
		if err := sb.Delete(key); err != nil {
			return err
		}
		return fb.Delete(key)
	})
}

// unlinkNames removes a file from the names entries of its stored symbols.
func unlinkNames(sb, nb *bolt.Bucket, key []byte) error {
	v := sb.Get(key)
	if v == nil {
		return nil
	}
	var old outline
	if err := decodeGob(v, &old); err != nil {
		return fmt.Errorf("decode symbols %s: %w", key, err)
	}
	for name := range symbolNames(old.Symbols) {
		if err := removePath(nb, name, string(key)); err != nil {
			return err
		}
	}
	return nil
}

func symbolNames(symbols []*ports.SymbolMeta) map[string]struct{} {
	names := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		if sym != nil && sym.Name != "" {
			names[sym.Name] = struct{}{}
		}
	}
	return names
}

func addPath(nb *bolt.Bucket, name, path string) error {
	paths := map[string]struct{}{}
	if v := nb.Get([]byte(name)); v != nil {
		var err error
		if paths, err = decodePaths(v); err != nil {
			return fmt.Errorf("decode names %q: %w", name, err)
		}
	}
	paths[path] = struct{}{}
	data, err := encodePaths(paths)
	if err != nil {
		return err
	}
	return nb.Put([]byte(name), data)
}

func removePath(nb *bolt.Bucket, name, path string) error {
	v := nb.Get([]byte(name))
	if v == nil {
		return nil
	}
	paths, err := decodePaths(v)
	if err != nil {
		return fmt.Errorf("decode names %q: %w", name, err)
	}
	delete(paths, path)
	if len(paths) == 0 {
		return nb.Delete([]byte(name))
	}
	data, err := encodePaths(paths)
	if err != nil {
		return err
	}
	return nb.Put([]byte(name), data)
}

// LoadFile returns the stored outline of one file.
// Returns nil, nil, nil if the file is not indexed.
func (s *Store) LoadFile(projectID string, path string) (*ports.FileMeta, []*ports.SymbolMeta, error) {
	var fileJSON, symData []byte

	err := s.db.View(func(tx *bolt.Tx) error {
		// Copy bytes out of the transaction (bbolt slices are only valid within tx)
		if fb := subBucket(tx, projectID, bucketFiles); fb != nil {
			if v := fb.Get([]byte(path)); v != nil {
				fileJSON = make([]byte, len(v))
				copy(fileJSON, v)
			}
		}
		if sb := subBucket(tx, projectID, bucketSymbols); sb != nil {
			if v := sb.Get([]byte(path)); v != nil {
				symData = make([]byte, len(v))
				copy(symData, v)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if fileJSON == nil {
		return nil, nil, nil
	}

	var fm ports.FileMeta
	if err := json.Unmarshal(fileJSON, &fm); err != nil {
		return nil, nil, fmt.Errorf("unmarshal file: %w", err)
	}
	var o outline
	if symData != nil {
		if err := decodeGob(symData, &o); err != nil {
			return nil, nil, fmt.Errorf("decode symbols: %w", err)
		}
	}
	return &fm, o.Symbols, nil
}

// Files lists all indexed files, sorted by path.
func (s *Store) Files(projectID string) ([]*ports.FileMeta, error) {
	var files []*ports.FileMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		fb := subBucket(tx, projectID, bucketFiles)
		if fb == nil {
			return nil
		}
		// Keys iterate in byte order, which is path order.
		return fb.ForEach(func(_, v []byte) error {
			var fm ports.FileMeta
			if err := json.Unmarshal(v, &fm); err != nil {
				return fmt.Errorf("unmarshal file: %w", err)
			}
			files = append(files, &fm)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// Find returns symbols named query, or starting with it when query ends in
// "*". A bare "*" matches every symbol. Results are ordered by path, then line.
func (s *Store) Find(projectID string, query string) ([]ports.SymbolHit, error) {
	prefix, isPrefix := strings.CutSuffix(query, "*")
	if !isPrefix && query == "" {
		return nil, nil
	}
	match := func(name string) bool {
		if isPrefix {
			return strings.HasPrefix(name, prefix)
		}
		return name == query
	}

	var hits []ports.SymbolHit
	err := s.db.View(func(tx *bolt.Tx) error {
		nb := subBucket(tx, projectID, bucketNames)
		sb := subBucket(tx, projectID, bucketSymbols)
		if nb == nil || sb == nil {
			return nil
		}

		paths := make(map[string]struct{})
		collect := func(name, v []byte) error {
			ps, err := decodePaths(v)
			if err != nil {
				return fmt.Errorf("decode names %q: %w", name, err)
			}
			for p := range ps {
				paths[p] = struct{}{}
			}
			return nil
		}
		if isPrefix {
			c := nb.Cursor()
			for k, v := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, v = c.Next() {
				if err := collect(k, v); err != nil {
					return err
				}
			}
		} else if v := nb.Get([]byte(query)); v != nil {
			if err := collect([]byte(query), v); err != nil {
				return err
			}
		}

		for p := range paths {
			v := sb.Get([]byte(p))
			if v == nil {
				continue
			}
			var o outline
			if err := decodeGob(v, &o); err != nil {
				return fmt.Errorf("decode symbols %s: %w", p, err)
			}
			for _, sym := range o.Symbols {
				if sym != nil && match(sym.Name) {
					hits = append(hits, ports.SymbolHit{Path: p, Symbol: sym})
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Path != hits[j].Path {
			return hits[i].Path < hits[j].Path
		}
		if hits[i].Symbol.StartLine != hits[j].Symbol.StartLine {
			return hits[i].Symbol.StartLine < hits[j].Symbol.StartLine
		}
		return hits[i].Symbol.Name < hits[j].Symbol.Name
	})
	return hits, nil
}

// DeleteProject removes all data for a project.
// Idempotent: deleting a nonexistent project is not an error.
func (s *Store) DeleteProject(projectID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(projectID)); errors.Is(err, bolt.ErrBucketNotFound) {
			return nil // idempotent
		} else {
			return err
		}
	})
}
