package sql

import (
	"testing"

	"github.com/dianpeng/fsql/meta"
	"github.com/dianpeng/fsql/sqlerr"
	"github.com/stretchr/testify/assert"
)

func testCatalog(assert *assert.Assertions) *meta.Catalog {
	cat := meta.NewCatalog()
	for _, ddl := range []string{
		"CREATE TABLE emp (id NUM(5), name CHAR(10), dept CHAR(4), salary NUM(9,2), hired DATE)",
		"CREATE UNIQUE INDEX pk ON emp (id)",
		"CREATE TABLE dept (code CHAR(4), title CHAR(20))",
		"CREATE UNIQUE INDEX dpk ON dept (code)",
	} {
		_, _, err := Parse(ddl, cat)
		assert.Nil(err, ddl)
	}
	return cat
}

func parseSelect(assert *assert.Assertions, cat *meta.Catalog, text string) *Select {
	stmt, _, err := Parse(text, cat)
	assert.Nil(err, text)
	if err != nil {
		return nil
	}
	s, ok := stmt.(*Select)
	assert.True(ok)
	return s
}

func TestSelectBasic(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(assert)

	s := parseSelect(assert, cat, "select * from emp")
	assert.Equal(5, len(s.Items))
	assert.Equal("ID", s.Items[0].Name)
	assert.Equal(meta.TypeNum, s.Items[0].Shape.Type)
	assert.Equal(-1, s.Where)

	s = parseSelect(assert, cat, "select e.name n, salary * 2 from emp e where id = 5 and name like 'A%';")
	assert.Equal(2, len(s.Items))
	assert.Equal("N", s.Items[0].Name)
	assert.Equal(2, s.Items[1].Shape.Scale)
	conj := s.Tree.Conjuncts(s.Where)
	assert.Equal(2, len(conj))
	assert.Equal(OpEq, s.Tree.Node(conj[0]).Op)
	assert.Equal(OpLike, s.Tree.Node(conj[1]).Op)
	col := s.Tree.Node(s.Tree.Node(conj[0]).L)
	assert.Equal(0, col.Col.Ref)
	assert.Equal(0, col.Col.Column)
}

func TestPostfixOrder(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(assert)
	s := parseSelect(assert, cat,
		"select name from emp where id between 1 and 9 or id in (20, 30) and not dept = 'X'")
	for i, n := range s.Tree.Nodes {
		if n.L >= 0 {
			assert.True(n.L < i)
		}
		if n.R >= 0 {
			assert.True(n.R < i)
		}
	}
	root := s.Tree.Node(s.Where)
	assert.Equal(OpOr, root.Op)
	between := s.Tree.Node(root.L)
	assert.Equal(OpAnd, between.Op)
	assert.Equal(OpGe, s.Tree.Node(between.L).Op)
	assert.Equal(OpLe, s.Tree.Node(between.R).Op)
	// both bounds compare the same column node
	assert.Equal(s.Tree.Node(between.L).L, s.Tree.Node(between.R).L)

	and := s.Tree.Node(root.R)
	assert.Equal(OpAnd, and.Op)
	assert.Equal(OpOr, s.Tree.Node(and.L).Op)
	assert.Equal(OpNot, s.Tree.Node(and.R).Op)
}

func TestNegatedPredicates(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(assert)
	s := parseSelect(assert, cat,
		"select id from emp where name not like 'a\\%%' and dept is not null and id not in (1) and salary > -1.5")
	conj := s.Tree.Conjuncts(s.Where)
	assert.Equal(4, len(conj))
	assert.Equal(OpNot, s.Tree.Node(conj[0]).Op)
	assert.Equal(OpIsNotNull, s.Tree.Node(conj[1]).Op)
	assert.Equal(OpNot, s.Tree.Node(conj[2]).Op)
	lit := s.Tree.Node(s.Tree.Node(conj[3]).R)
	assert.Equal("-1.5", lit.Text)
	assert.Equal(1, lit.Shape.Scale)

	s = parseSelect(assert, cat, "select id from emp where name like 'a!%%' escape '!'")
	like := s.Tree.Node(s.Where)
	assert.Equal("a\\%%", s.Tree.Node(like.R).Text)
}

func TestJoinsAndAliases(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(assert)
	s := parseSelect(assert, cat,
		"select e.name, d.title from emp e left outer join dept d on e.dept = d.code order by title desc, 1")
	assert.Equal(2, len(s.Tables))
	assert.Equal(JoinLeft, s.Tables[1].Join)
	assert.True(s.Tables[1].On >= 0)
	assert.Equal(2, len(s.OrderBy))
	assert.Equal(1, s.OrderBy[0].Item)
	assert.True(s.OrderBy[0].Desc)
	assert.Equal(0, s.OrderBy[1].Item)

	_, _, err := Parse("select name from emp, dept d, emp", cat)
	assert.NotNil(err)

	_, _, err = Parse("select code from emp, dept where code = dept", cat)
	assert.Nil(err)

	_, _, err = Parse("select title from emp e join dept d on e.dept = d.code, dept", cat)
	assert.NotNil(err)

	_, _, err = Parse("select x.name from emp e", cat)
	assert.True(sqlerr.Is(err, sqlerr.ParseTableNotFound))

	_, _, err = Parse("select name from nosuch", cat)
	assert.True(sqlerr.Is(err, sqlerr.ParseTableNotFound))

	_, _, err = Parse("select nosuch from emp", cat)
	assert.True(sqlerr.Is(err, sqlerr.ParseColumnNotFound))
}

func TestGroupByValidation(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(assert)

	s := parseSelect(assert, cat,
		"select dept, count(*) c, avg(salary) from emp group by dept having c > 1 order by c")
	assert.Equal(2, len(s.Aggs))
	assert.Equal(AggCountStar, s.Aggs[0].Fn)
	assert.Equal(AggAvg, s.Aggs[1].Fn)
	assert.Equal(6, s.Aggs[1].Shape.Scale)
	assert.Equal(OpAgg, s.Tree.Node(s.Tree.Node(s.Having).L).Op)
	assert.Equal(1, s.OrderBy[0].Item)

	_, _, err := Parse("select name, count(*) from emp group by dept", cat)
	assert.NotNil(err)

	_, _, err = Parse("select count(*) from emp where count(*) > 1", cat)
	assert.NotNil(err)

	_, _, err = Parse("select count(distinct dept), sum(distinct salary) from emp", cat)
	assert.NotNil(err)

	_, _, err = Parse("select count(distinct dept), max(distinct dept) from emp", cat)
	assert.Nil(err)

	_, _, err = Parse("select sum(name) from emp", cat)
	assert.NotNil(err)
}

func TestForUpdateRules(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(assert)

	s := parseSelect(assert, cat, "select name from emp where id > 3 for update")
	assert.True(s.ForUpdate)

	for _, text := range []string{
		"select name from emp, dept for update",
		"select distinct name from emp for update",
		"select count(*) from emp for update",
		"select dept from emp group by dept for update",
	} {
		_, _, err := Parse(text, cat)
		assert.NotNil(err, text)
	}

	_, _, err := Parse("select distinct name from emp order by id", cat)
	assert.NotNil(err)
}

func TestExpressions(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(assert)
	s := parseSelect(assert, cat,
		"select upper(name) || '-' || dept, substring(name from 2 for 3), trim(leading from name), "+
			"cast(id as char(5)), substr(name, 1, 2) from emp")
	assert.Equal(5, len(s.Items))
	assert.Equal(OpConcat, s.Tree.Node(s.Items[0].Expr).Op)
	assert.Equal(15, s.Items[0].Shape.Length)
	sub := s.Tree.Node(s.Items[1].Expr)
	assert.Equal(OpSubstr, sub.Op)
	assert.True(sub.X >= 0)
	assert.Equal(TrimLeading, s.Tree.Node(s.Items[2].Expr).Trim)
	assert.Equal(meta.TypeChar, s.Items[3].Shape.Type)

	_, _, err := Parse("select name + 1 from emp", cat)
	assert.NotNil(err)
	_, _, err = Parse("select id from emp where name = 1", cat)
	assert.NotNil(err)
	_, _, err = Parse("select id from emp where id", cat)
	assert.NotNil(err)
	_, _, err = Parse("select nosuch(id) from emp", cat)
	assert.NotNil(err)
}

func TestSyntaxErrorLine(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(assert)
	_, _, err := Parse("select id\nfrom emp\nwhere id = = 3", cat)
	e, ok := sqlerr.As(err)
	assert.True(ok)
	assert.Equal(sqlerr.KindSyntax, e.Kind)
	assert.Equal(3, e.Line)

	_, _, err = Parse("select 'abc from emp", cat)
	e, ok = sqlerr.As(err)
	assert.True(ok)
	assert.Equal(sqlerr.KindSyntax, e.Kind)

	_, _, err = Parse("select id from emp garbage here", cat)
	assert.NotNil(err)
}

func TestInsertUpdateDelete(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(assert)

	stmt, warnings, err := Parse("insert into emp (id, name, salary) values (1, 'a very long name', 10.456)", cat)
	assert.Nil(err)
	assert.Equal(2, len(warnings))
	ins := stmt.(*Insert)
	assert.Equal(3, len(ins.Values))
	assert.Equal("a very lon", string(ins.Values[1].Data))
	assert.Equal("    10.45", string(ins.Values[2].Data))

	_, _, err = Parse("insert into emp (id) values ('x1')", cat)
	assert.True(sqlerr.Is(err, sqlerr.BadNumeric))

	_, _, err = Parse("insert into emp (id) values (1234567)", cat)
	assert.True(sqlerr.Is(err, sqlerr.BadNumeric))

	_, _, err = Parse("insert into emp (id, name) values (1)", cat)
	assert.NotNil(err)

	stmt, _, err = Parse("update emp set salary = salary + 1, name = 'bob' where id = 1", cat)
	assert.Nil(err)
	upd := stmt.(*Update)
	assert.Equal(2, len(upd.Sets))
	assert.Equal(3, upd.Sets[0].Column)
	assert.Equal(10, upd.Tree.Node(upd.Sets[1].Expr).Shape.Length)

	_, _, err = Parse("update emp set id = 'abc'", cat)
	assert.NotNil(err)

	stmt, _, err = Parse("delete from emp where id > 10", cat)
	assert.Nil(err)
	assert.Equal(StmtDelete, stmt.Kind())

	stmt, _, err = Parse("lock table emp", cat)
	assert.Nil(err)
	assert.False(stmt.(*Lock).Unlock)
}

func TestReadOnlyTables(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(assert)
	_, err := cat.Add(&meta.Table{
		Name:     "RO",
		ReadOnly: true,
		Columns:  []*meta.Column{{Name: "A", Type: meta.TypeChar, Length: 2}},
	})
	assert.Nil(err)
	_, err = cat.Add(&meta.Table{
		Name:     "NU",
		NoUpdate: true,
		Columns:  []*meta.Column{{Name: "A", Type: meta.TypeChar, Length: 2}},
	})
	assert.Nil(err)

	_, _, err = Parse("insert into ro values ('x')", cat)
	assert.True(sqlerr.Is(err, sqlerr.ReadOnly))
	_, _, err = Parse("delete from ro", cat)
	assert.True(sqlerr.Is(err, sqlerr.ReadOnly))
	_, _, err = Parse("update nu set a = 'y'", cat)
	assert.True(sqlerr.Is(err, sqlerr.NoUpdate))
	_, _, err = Parse("insert into nu values ('x')", cat)
	assert.Nil(err)
	_, _, err = Parse("select a from nu for update", cat)
	assert.True(sqlerr.Is(err, sqlerr.NoUpdate))
}

func TestDDL(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(assert)

	stmt, _, err := Parse("alter table dept add column floor NUM(3) after code, add associative index byfloor (floor)", cat)
	assert.Nil(err)
	assert.Equal(StmtDDL, stmt.Kind())
	_, d, err := cat.Lookup("DEPT")
	assert.Nil(err)
	assert.Equal("FLOOR", d.Columns[1].Name)
	idx, index := d.IndexByName("BYFLOOR")
	assert.True(idx >= 0)
	assert.Equal(meta.IndexAIM, index.Type)

	_, _, err = Parse("alter table dept add budget NUM(9,2) first", cat)
	assert.Nil(err)
	_, d, _ = cat.Lookup("dept")
	assert.Equal("BUDGET", d.Columns[0].Name)

	_, _, err = Parse("alter table dept drop index byfloor, drop column floor", cat)
	assert.Nil(err)
	_, d, _ = cat.Lookup("dept")
	_, c := d.Column("FLOOR")
	assert.Nil(c)

	_, _, err = Parse("create table dept (x char(1))", cat)
	assert.True(sqlerr.Is(err, sqlerr.TableExists))

	_, _, err = Parse("drop index dpk on dept", cat)
	assert.Nil(err)
	_, _, err = Parse("drop table dept", cat)
	assert.Nil(err)
	_, _, err = Parse("select * from dept", cat)
	assert.True(sqlerr.Is(err, sqlerr.ParseTableNotFound))

	// a syntax error leaves the catalog alone
	v := cat.Version()
	_, _, err = Parse("create table t2 (a char(1)) junk", cat)
	assert.NotNil(err)
	assert.Equal(v, cat.Version())
}

func TestLike(t *testing.T) {
	assert := assert.New(t)
	m := NewMatcher()
	assert.True(m.Like("abc   ", "a%"))
	assert.True(m.Like("abc", "_b_"))
	assert.False(m.Like("abc", "b%"))
	assert.True(m.Like("a%c", "a\\%c"))
	assert.False(m.Like("abc", "a\\%c"))
	assert.True(m.Like("a.c", "a.c"))
	assert.False(m.Like("abc", "a.c"))

	prefix, anchored, exact := LikePrefix("ab\\_c%")
	assert.Equal("ab_c", prefix)
	assert.True(anchored)
	assert.False(exact)
	_, anchored, _ = LikePrefix("%x")
	assert.False(anchored)
	_, _, exact = LikePrefix("plain")
	assert.True(exact)

	assert.Equal("a\\%b\\\\", CanonicalLike("a!%b\\", '!'))
}

func TestSetQuantifierAndLockClauses(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(assert)

	s := parseSelect(assert, cat, "select all name from emp")
	assert.Equal(1, len(s.Items))
	assert.False(s.Distinct)

	s = parseSelect(assert, cat, "select name from emp where id = 1 for update nowait")
	assert.True(s.ForUpdate)
	assert.True(s.NoWait)

	s = parseSelect(assert, cat, "select name from emp for read")
	assert.True(s.ForRead)
	assert.False(s.ForUpdate)
	assert.False(s.NoWait)

	// FOR READ takes no row locks, so joins and DISTINCT are fine
	s = parseSelect(assert, cat, "select distinct e.name from emp e, dept d for read nowait")
	assert.True(s.ForRead)
	assert.True(s.NoWait)

	_, _, err := Parse("select name from emp for delete", cat)
	assert.True(sqlerr.Is(err, sqlerr.ParseError))
}

func TestDropIfExistsAndRename(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(assert)

	v := cat.Version()
	stmt, warnings, err := Parse("drop table if exists nosuch", cat)
	assert.Nil(err)
	assert.Equal(StmtDDL, stmt.Kind())
	assert.Equal(1, len(warnings))
	assert.Equal(v, cat.Version())

	_, _, err = Parse("drop table nosuch", cat)
	assert.True(sqlerr.Is(err, sqlerr.ParseTableNotFound))

	_, warnings, err = Parse("drop table if exists dept", cat)
	assert.Nil(err)
	assert.Equal(0, len(warnings))
	assert.False(cat.Has("DEPT"))

	_, _, err = Parse("alter table emp rename to staff", cat)
	assert.Nil(err)
	assert.False(cat.Has("EMP"))
	s := parseSelect(assert, cat, "select name from staff where id = 1")
	assert.NotNil(s)

	_, _, err = Parse("create table other (a char(1))", cat)
	assert.Nil(err)
	_, _, err = Parse("alter table other rename staff", cat)
	assert.True(sqlerr.Is(err, sqlerr.TableExists))
	assert.True(cat.Has("OTHER"))
}
