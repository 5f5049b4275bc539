package store

import (
	"time"

	"github.com/dianpeng/fsql/sqlerr"
)

// lockState tracks record and file locks by owner. An owner is a
// connection id; all of an owner's locks can be dropped in one pass.
type lockState struct {
	records map[uint32]string
	file    string
	// closed and replaced whenever a lock is given up
	released chan struct{}
}

func newLockState() lockState {
	return lockState{
		records:  make(map[uint32]string),
		released: make(chan struct{}),
	}
}

func (self *lockState) signal() {
	close(self.released)
	self.released = make(chan struct{})
}

func locked(name string) error {
	return sqlerr.Exec(sqlerr.ExecRecordLocked, "%s is locked by another connection", name)
}

func (self *lockState) checkFile(owner string, name string) error {
	if self.file != "" && self.file != owner {
		return locked(name)
	}
	return nil
}

func (self *lockState) checkRecord(owner string, recno uint32, name string) error {
	if err := self.checkFile(owner, name); err != nil {
		return err
	}
	if o, ok := self.records[recno]; ok && o != owner {
		return locked(name)
	}
	return nil
}

func (self *lockState) release(owner string) int {
	n := 0
	for recno, o := range self.records {
		if o == owner {
			delete(self.records, recno)
			n++
		}
	}
	if self.file == owner {
		self.file = ""
		n++
	}
	if n > 0 {
		self.signal()
	}
	return n
}

// acquire calls try with the file mutex held until it succeeds, fails
// with anything but a lock conflict, or wait runs out. Between attempts it
// sleeps until some lock of the file is given up. A zero wait tries once.
func (self *File) acquire(wait time.Duration, try func() error) error {
	var deadline <-chan time.Time
	for {
		self.mu.Lock()
		err := try()
		released := self.locks.released
		self.mu.Unlock()

		if err == nil || wait <= 0 || !sqlerr.Is(err, sqlerr.ExecRecordLocked) {
			return err
		}
		if deadline == nil {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			deadline = timer.C
		}
		select {
		case <-released:
			break
		case <-deadline:
			return err
		}
	}
}

func (self *File) LockRecord(recno uint32, owner string) error {
	return self.LockRecordWait(recno, owner, 0)
}

// LockRecordWait locks recno for owner, waiting up to wait for another
// owner to let go of it.
func (self *File) LockRecordWait(recno uint32, owner string, wait time.Duration) error {
	return self.acquire(wait, func() error {
		if err := self.locks.checkRecord(owner, recno, self.table.Name); err != nil {
			return err
		}
		self.locks.records[recno] = owner
		return nil
	})
}

func (self *File) UnlockRecord(recno uint32, owner string) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.locks.records[recno] == owner {
		delete(self.locks.records, recno)
		self.locks.signal()
	}
}

// LockFile takes the whole file for owner. It fails while any other owner
// holds the file or one of its records.
func (self *File) LockFile(owner string) error {
	return self.LockFileWait(owner, 0)
}

func (self *File) LockFileWait(owner string, wait time.Duration) error {
	return self.acquire(wait, func() error {
		if err := self.locks.checkFile(owner, self.table.Name); err != nil {
			return err
		}
		for _, o := range self.locks.records {
			if o != owner {
				return locked(self.table.Name)
			}
		}
		self.locks.file = owner
		return nil
	})
}

func (self *File) UnlockFile(owner string) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.locks.file == owner {
		self.locks.file = ""
		self.locks.signal()
	}
}

// ReleaseRecords drops the record locks of owner but keeps a file lock.
func (self *File) ReleaseRecords(owner string) {
	self.mu.Lock()
	defer self.mu.Unlock()
	n := 0
	for recno, o := range self.locks.records {
		if o == owner {
			delete(self.locks.records, recno)
			n++
		}
	}
	if n > 0 {
		self.locks.signal()
	}
}

func (self *File) releaseAll(owner string) int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.locks.release(owner)
}

// FileOwner is the owner holding the file lock, empty if none.
func (self *File) FileOwner() string {
	self.mu.RLock()
	defer self.mu.RUnlock()
	return self.locks.file
}
