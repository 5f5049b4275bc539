package store

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dianpeng/fsql/logger"
	"github.com/dianpeng/fsql/meta"
	"github.com/dianpeng/fsql/sqlerr"
)

// Store owns the open files of every table. When dir is set, files are
// loaded from and flushed to fixed width record files (one record per
// line) under dir.
type Store struct {
	mu    sync.Mutex
	dir   string
	files map[string]*File
}

func New(dir string) *Store {
	return &Store{
		dir:   dir,
		files: make(map[string]*File),
	}
}

func fileKey(t *meta.Table) string {
	return strings.ToUpper(t.Name)
}

func (self *Store) dataPath(t *meta.Table) string {
	name := t.File
	if name == "" {
		name = strings.ToLower(t.Name)
	}
	return filepath.Join(self.dir, name+".dat")
}

// Open returns the file of t, loading it on first use.
func (self *Store) Open(t *meta.Table) (*File, error) {
	self.mu.Lock()
	defer self.mu.Unlock()

	if f, ok := self.files[fileKey(t)]; ok {
		if f.Table() != t {
			if err := f.reshape(t); err != nil {
				return nil, err
			}
		}
		return f, nil
	}
	return self.file(t)
}

func (self *Store) load(f *File) error {
	path := self.dataPath(f.table)
	fd, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return sqlerr.Exec(sqlerr.ExecBadDataFile, "open %s: %s", path, err)
	}
	defer fd.Close()

	n := 0
	scanner := bufio.NewScanner(fd)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		rec := make([]byte, f.table.RecordLength)
		meta.Blank(rec)
		copy(rec, line)
		if _, err := f.Write(rec, ""); err != nil {
			return err
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return sqlerr.Exec(sqlerr.ExecBadDataFile, "read %s: %s", path, err)
	}
	logger.Debugf("store: loaded %d records of %s", n, f.table.Name)
	return nil
}

func (self *Store) flush(f *File) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	buf := &bytes.Buffer{}
	for _, recno := range f.live.ToArray() {
		buf.Write(f.recs[recno])
		buf.WriteByte('\n')
	}
	path := self.dataPath(f.table)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// Flush writes every open file back to dir.
func (self *Store) Flush() error {
	if self.dir == "" {
		return nil
	}
	self.mu.Lock()
	defer self.mu.Unlock()
	for _, f := range self.files {
		if err := self.flush(f); err != nil {
			return sqlerr.Exec(sqlerr.ExecNoWrite, "flush %s: %s", f.table.Name, err)
		}
	}
	return nil
}

// file returns the file of t, loading it when it is not open yet. Called
// with mu held.
func (self *Store) file(t *meta.Table) (*File, error) {
	if f, ok := self.files[fileKey(t)]; ok {
		return f, nil
	}
	f := newFile(t)
	if self.dir != "" {
		if err := self.load(f); err != nil {
			return nil, err
		}
	}
	self.files[fileKey(t)] = f
	return f, nil
}

// Reorganize converts the file of old to the layout of new; a nil old
// creates an empty file. A renamed table takes its file along.
func (self *Store) Reorganize(old, new *meta.Table) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	if old == nil {
		self.files[fileKey(new)] = newFile(new)
		return nil
	}
	f, err := self.file(old)
	if err != nil {
		return err
	}
	if err := f.reshape(new); err != nil {
		return err
	}
	if err := self.rename(f, old, new); err != nil {
		return err
	}
	logger.Infof("store: reorganized %s (%d records)", new.Name, f.Count())
	return nil
}

func (self *Store) rename(f *File, old, new *meta.Table) error {
	if fileKey(old) != fileKey(new) {
		delete(self.files, fileKey(old))
		self.files[fileKey(new)] = f
	}
	if self.dir == "" {
		return nil
	}
	from, to := self.dataPath(old), self.dataPath(new)
	if from == to {
		return nil
	}
	if err := os.Rename(from, to); err != nil && !os.IsNotExist(err) {
		return sqlerr.Exec(sqlerr.ExecNoWrite, "rename %s: %s", from, err)
	}
	return nil
}

// Reindex rebuilds the indexes of a table whose columns did not change.
func (self *Store) Reindex(t *meta.Table) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	f, err := self.file(t)
	if err != nil {
		return err
	}
	if err := f.reindex(t); err != nil {
		return err
	}
	logger.Infof("store: reindexed %s (%d indexes)", t.Name, len(t.Indexes))
	return nil
}

func (self *Store) Drop(t *meta.Table) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	delete(self.files, fileKey(t))
	if self.dir != "" {
		if err := os.Remove(self.dataPath(t)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// ReleaseAll drops every record and file lock held by owner.
func (self *Store) ReleaseAll(owner string) int {
	self.mu.Lock()
	files := make([]*File, 0, len(self.files))
	for _, f := range self.files {
		files = append(files, f)
	}
	self.mu.Unlock()

	n := 0
	for _, f := range files {
		n += f.releaseAll(owner)
	}
	if n > 0 {
		logger.Debugf("store: released %d locks of %s", n, owner)
	}
	return n
}
