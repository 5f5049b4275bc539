// Package engine is the caller facing side of the SQL core. An Engine owns
// the catalog, the table files, the workset manager and the plan cache;
// clients talk to it through connections, each holding its open cursors.
package engine

import (
	"strings"
	"time"

	"github.com/dianpeng/fsql/cg"
	"github.com/dianpeng/fsql/logger"
	"github.com/dianpeng/fsql/meta"
	"github.com/dianpeng/fsql/plan"
	"github.com/dianpeng/fsql/sql"
	"github.com/dianpeng/fsql/store"
	"github.com/dianpeng/fsql/vm"
	"github.com/dianpeng/fsql/workset"
	"github.com/google/uuid"
)

type Engine struct {
	config   *Config
	compiler *cg.Config
	catalog  *meta.Catalog
	store    *store.Store
	worksets *workset.Manager
	cache    *planCache
	lockWait time.Duration
}

// New builds an engine from config; a nil config means DefaultConfig.
func New(config *Config) (*Engine, error) {
	if config == nil {
		config = DefaultConfig()
	}
	config.fill()
	logger.SetLogLevel(config.logLevel())

	compiler, err := config.compilerConfig()
	if err != nil {
		return nil, err
	}
	wait, err := config.lockWait()
	if err != nil {
		return nil, err
	}

	var cat *meta.Catalog
	if config.SchemaPath != "" {
		if cat, err = meta.LoadCatalog(config.SchemaPath); err != nil {
			return nil, err
		}
	} else {
		cat = meta.NewCatalog()
	}

	cache, err := newPlanCache(config.PlanCacheSize)
	if err != nil {
		return nil, err
	}

	st := store.New(config.DataDir)
	cat.SetReorganizer(st)

	return &Engine{
		config:   config,
		compiler: compiler,
		catalog:  cat,
		store:    st,
		worksets: workset.NewManager(config.WorksetMemRows, config.TempDir),
		cache:    cache,
		lockWait: wait,
	}, nil
}

func (self *Engine) Config() *Config { return self.config }

func (self *Engine) Catalog() *meta.Catalog { return self.catalog }

// Connect opens a connection. Its id is the owner of every lock its
// statements take.
func (self *Engine) Connect() *Conn {
	c := &Conn{
		engine: self,
		id:     uuid.NewString(),
		match:  sql.NewMatcher(),
	}
	logger.Infof("engine: connection %s opened", c.id)
	return c
}

// Close writes the table files back. Connections must be closed first.
func (self *Engine) Close() error {
	self.cache.close()
	return self.store.Flush()
}

// compile parses and compiles one statement. Schema statements run while
// they are parsed and are never cached.
func (self *Engine) compile(text string) (*compiled, error) {
	text = strings.TrimSpace(text)
	version := self.catalog.Version()
	if c, ok := self.cache.get(version, text); ok {
		return c, nil
	}

	stmt, warnings, err := sql.Parse(text, self.catalog)
	if err != nil {
		return nil, err
	}
	prog, _, err := cg.Compile(stmt, self.compiler)
	if err != nil {
		return nil, err
	}
	c := &compiled{prog: prog, warnings: warnings}
	if stmt.Kind() != sql.StmtDDL && self.catalog.Version() == version {
		self.cache.put(version, text, c)
	}
	return c, nil
}

// Explain returns the plan and the program of a statement without
// running it. Schema statements are carried out by the parse.
func (self *Engine) Explain(text string) (string, error) {
	stmt, _, err := sql.Parse(strings.TrimSpace(text), self.catalog)
	if err != nil {
		return "", err
	}
	prog, p, err := cg.Compile(stmt, self.compiler)
	if err != nil {
		return "", err
	}
	return plan.Explain(p) + "\n" + vm.Dump(prog), nil
}
