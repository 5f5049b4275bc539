package engine

import (
	"strconv"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/dianpeng/fsql/logger"
	"github.com/dianpeng/fsql/sqlerr"
	"github.com/dianpeng/fsql/vm"
)

// compiled is a cached compilation. Programs are never modified once
// built, so every connection may run the same one.
type compiled struct {
	prog     *vm.Program
	warnings []*sqlerr.Error
}

// planCache maps statement text to compiled programs. Keys carry the
// catalog version, so a schema change makes every older entry unreachable.
type planCache struct {
	cache *ristretto.Cache[string, *compiled]
}

func newPlanCache(size int) (*planCache, error) {
	if size <= 0 {
		return &planCache{}, nil
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, *compiled]{
		NumCounters: int64(size) * 10,
		MaxCost:     int64(size),
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &planCache{cache: c}, nil
}

func cacheKey(version uint64, text string) string {
	return strconv.FormatUint(version, 10) + "\x00" + text
}

func (self *planCache) get(version uint64, text string) (*compiled, bool) {
	if self.cache == nil {
		return nil, false
	}
	c, ok := self.cache.Get(cacheKey(version, text))
	if ok {
		logger.Debugf("plan cache: hit %q", text)
	}
	return c, ok
}

func (self *planCache) put(version uint64, text string, c *compiled) {
	if self.cache == nil {
		return
	}
	self.cache.Set(cacheKey(version, text), c, 1)
	// make the entry visible to the next lookup
	self.cache.Wait()
}

func (self *planCache) close() {
	if self.cache != nil {
		self.cache.Close()
	}
}
