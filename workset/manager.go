package workset

import (
	"sync"

	"github.com/dianpeng/fsql/logger"
	"github.com/dianpeng/fsql/sqlerr"
)

// Handle names a workset in a Manager. Handles of freed worksets never
// resolve again, even when the slot is reused.
type Handle struct {
	Slot uint32
	Gen  uint32
}

type slot struct {
	gen  uint32
	refs int
	ws   *Workset
}

// Manager allocates worksets in an arena of slots. Ownership is shared by
// reference count: a compiled statement and the cursor reading its result
// may both hold a workset, and whichever releases last frees it.
type Manager struct {
	mu      sync.Mutex
	slots   []slot
	free    []uint32
	memRows int
	dir     string
}

func NewManager(memRows int, dir string) *Manager {
	return &Manager{
		memRows: memRows,
		dir:     dir,
	}
}

func (self *Manager) Alloc(rowLen, capacityHint int) Handle {
	self.mu.Lock()
	defer self.mu.Unlock()

	var idx uint32
	if n := len(self.free); n > 0 {
		idx = self.free[n-1]
		self.free = self.free[:n-1]
	} else {
		self.slots = append(self.slots, slot{})
		idx = uint32(len(self.slots) - 1)
	}
	s := &self.slots[idx]
	s.gen++
	s.refs = 1
	s.ws = New(rowLen, self.memRows, self.dir, capacityHint)
	return Handle{Slot: idx, Gen: s.gen}
}

func (self *Manager) lookup(h Handle) (*slot, error) {
	if int(h.Slot) >= len(self.slots) {
		return nil, sqlerr.Exec(sqlerr.ExecBadWorkset, "bad workset handle %d", h.Slot)
	}
	s := &self.slots[h.Slot]
	if s.gen != h.Gen || s.ws == nil {
		return nil, sqlerr.Exec(sqlerr.ExecBadWorkset, "stale workset handle %d/%d", h.Slot, h.Gen)
	}
	return s, nil
}

func (self *Manager) Get(h Handle) (*Workset, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	s, err := self.lookup(h)
	if err != nil {
		return nil, err
	}
	return s.ws, nil
}

func (self *Manager) Retain(h Handle) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	s, err := self.lookup(h)
	if err != nil {
		return err
	}
	s.refs++
	return nil
}

// Release drops one reference; the last one frees the workset. Releasing a
// handle that is already freed is harmless.
func (self *Manager) Release(h Handle) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	s, err := self.lookup(h)
	if err != nil {
		return nil
	}
	s.refs--
	if s.refs > 0 {
		return nil
	}
	ws := s.ws
	s.ws = nil
	s.gen++
	self.free = append(self.free, h.Slot)
	if err := ws.Close(); err != nil {
		logger.Warnf("workset: removing work file: %s", err)
		return sqlerr.Exec(sqlerr.ExecBadWorkFile, "remove work file: %s", err)
	}
	return nil
}

// ReleaseAll frees every workset regardless of its reference count.
func (self *Manager) ReleaseAll() {
	self.mu.Lock()
	defer self.mu.Unlock()
	for i := range self.slots {
		s := &self.slots[i]
		if s.ws == nil {
			continue
		}
		s.ws.Close()
		s.ws = nil
		s.gen++
		self.free = append(self.free, uint32(i))
	}
}

// Live counts allocated worksets.
func (self *Manager) Live() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	n := 0
	for _, s := range self.slots {
		if s.ws != nil {
			n++
		}
	}
	return n
}
