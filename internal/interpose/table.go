package interpose

import "sync"

// Table associates local placeholder descriptors with the remote files they
// stand in for. A descriptor is remote-backed if and only if it is in the
// Table.
type Table struct {
	mut   sync.RWMutex
	files map[int]*remoteFile
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{files: make(map[int]*remoteFile)}
}

// Insert associates fd with f. Insert returns false and leaves the table
// unchanged if fd is already associated.
func (t *Table) Insert(fd int, f *remoteFile) bool {
	t.mut.Lock()
	defer t.mut.Unlock()

	if _, exist := t.files[fd]; exist {
		return false
	}
	t.files[fd] = f
	return true
}

// Lookup returns the remote file associated with fd.
func (t *Table) Lookup(fd int) (*remoteFile, bool) {
	t.mut.RLock()
	defer t.mut.RUnlock()

	f, ok := t.files[fd]
	return f, ok
}

// Remove deletes the association for fd, returning the file that was
// associated with it.
func (t *Table) Remove(fd int) (*remoteFile, bool) {
	t.mut.Lock()
	defer t.mut.Unlock()

	f, ok := t.files[fd]
	if ok {
		delete(t.files, fd)
	}
	return f, ok
}

// Drain removes and returns every association.
func (t *Table) Drain() map[int]*remoteFile {
	t.mut.Lock()
	defer t.mut.Unlock()

	files := t.files
	t.files = make(map[int]*remoteFile)
	return files
}

// Len returns the number of associations.
func (t *Table) Len() int {
	t.mut.RLock()
	defer t.mut.RUnlock()
	return len(t.files)
}
