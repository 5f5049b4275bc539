package cg

import (
	"github.com/dianpeng/fsql/logger"
	"github.com/dianpeng/fsql/plan"
	"github.com/dianpeng/fsql/sql"
	"github.com/dianpeng/fsql/sqlerr"
	"github.com/dianpeng/fsql/vm"
)

// Lock policies of UPDATE and DELETE statements.
const (
	// every row is locked while it is rewritten
	LockRecord = iota
	// the statement holds the table lock from start to end
	LockFile
	// no lock beyond what the write itself takes
	LockNone
)

func ParseLockPolicy(s string) (int, bool) {
	switch s {
	case "", "record":
		return LockRecord, true
	case "file":
		return LockFile, true
	case "none":
		return LockNone, true
	default:
		return 0, false
	}
}

type Config struct {
	LockPolicy int
}

// seekEnd is a row number no result reaches, used to run a loop to its end.
const seekEnd = 1 << 30

// Compile plans and lowers one statement.
func Compile(stmt sql.Statement, config *Config) (*vm.Program, *plan.Plan, error) {
	p, err := plan.Build(stmt)
	if err != nil {
		return nil, nil, err
	}
	prog, err := Generate(p, config)
	if err != nil {
		return nil, nil, err
	}
	return prog, p, nil
}

// Generate lowers a plan into a program.
func Generate(p *plan.Plan, config *Config) (*vm.Program, error) {
	if config == nil {
		config = &Config{}
	}
	g := &queryCodeGen{
		plan:   p,
		config: config,
		ctx:    NewCompilerContext(p.Stmt.Kind()),
		scope:  newScope(),
	}
	if err := g.gen(); err != nil {
		return nil, err
	}
	prog, err := g.ctx.Finish()
	if err != nil {
		return nil, err
	}
	if logger.Level() >= logger.LogLevelDebug {
		logger.Debugf("compiled program\n%s", vm.Dump(prog))
	}
	return prog, nil
}

// queryCodeGen lowers one plan. The sub generators (expressions, loops,
// aggregation, fetch functions) share it through their cg field.
type queryCodeGen struct {
	plan   *plan.Plan
	config *Config
	ctx    *CompilerContext

	// values visible to expressions, see exprCodeGen
	scope *scope
}

func (self *queryCodeGen) gen() error {
	switch s := self.plan.Stmt.(type) {
	case *sql.Select:
		// plain and FOR READ queries lock nothing
		self.addTables(s.Tables, s.ForUpdate)
		return (&selectCodeGen{cg: self, stmt: s}).gen()
	case *sql.Insert:
		self.addTables([]sql.TableRef{s.Table}, false)
		return self.genInsert(s)
	case *sql.Update:
		self.addTables([]sql.TableRef{s.Table}, false)
		return self.genModify(s.Sets)
	case *sql.Delete:
		self.addTables([]sql.TableRef{s.Table}, false)
		return self.genModify(nil)
	case *sql.Lock:
		self.addTables([]sql.TableRef{s.Table}, false)
		return self.genLock(s)
	case *sql.DDL:
		self.ctx.Emit(vm.OpTerminate, vm.StatusExecuted, 0, 0)
		return nil
	default:
		return sqlerr.Internalf("cannot compile statement kind %d", self.plan.Stmt.Kind())
	}
}

func (self *queryCodeGen) addTables(refs []sql.TableRef, lock bool) {
	prog := self.ctx.Program()
	for _, r := range refs {
		prog.Tables = append(prog.Tables, vm.TableRef{
			Name:  r.Label(),
			Table: r.Table,
			ID:    r.ID,
			Lock:  lock,
		})
	}
}

func (self *queryCodeGen) expr() *exprCodeGen {
	return &exprCodeGen{cg: self, ctx: self.ctx, scope: self.scope, tree: self.plan.Tree}
}
