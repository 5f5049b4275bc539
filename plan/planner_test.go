package plan

import (
	"strings"
	"testing"

	"github.com/dianpeng/fsql/meta"
	"github.com/dianpeng/fsql/sql"
	"github.com/stretchr/testify/assert"
)

func testCatalog(assert *assert.Assertions) *meta.Catalog {
	cat := meta.NewCatalog()
	for _, ddl := range []string{
		"CREATE TABLE emp (id NUM(5), name CHAR(10), dept CHAR(4), salary NUM(9,2), hired DATE)",
		"CREATE UNIQUE INDEX pk ON emp (id)",
		"CREATE INDEX byname ON emp (name)",
		"CREATE TABLE dept (code CHAR(4), title CHAR(20))",
		"CREATE UNIQUE INDEX dpk ON dept (code)",
		"CREATE TABLE item (a CHAR(2), b CHAR(3), c CHAR(5))",
		"CREATE UNIQUE INDEX ipk ON item (a, b)",
	} {
		_, _, err := sql.Parse(ddl, cat)
		assert.Nil(err, ddl)
	}
	return cat
}

func build(assert *assert.Assertions, cat *meta.Catalog, text string) *Plan {
	stmt, _, err := sql.Parse(text, cat)
	assert.Nil(err, text)
	if err != nil {
		return nil
	}
	p, err := Build(stmt)
	assert.Nil(err, text)
	return p
}

func TestExactOnFullKey(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(assert)

	p := build(assert, cat, "select name from emp where id = 5")
	assert.Equal(1, len(p.Levels))
	ch := p.Levels[0].Choice
	assert.Equal(Exact, ch.Strategy)
	assert.Equal("PK", ch.IndexName(p.Levels[0].Table))
	assert.Equal(1, ch.EqColumns)
	assert.Equal(ModeDynamic, p.Mode)

	// reversed operands
	p = build(assert, cat, "select name from emp where 5 = id")
	assert.Equal(Exact, p.Levels[0].Choice.Strategy)

	p = build(assert, cat, "select c from item where b = 'x' and a = 'y'")
	assert.Equal(Exact, p.Levels[0].Choice.Strategy)
	assert.Equal(2, len(p.Levels[0].Choice.Trace))

	p = build(assert, cat, "select name from emp where name = 'bob'")
	assert.Equal(ExactDup, p.Levels[0].Choice.Strategy)
}

func TestRangeStrategies(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(assert)

	// leading part of a composite key
	p := build(assert, cat, "select c from item where a = 'y'")
	ch := p.Levels[0].Choice
	assert.Equal(Range, ch.Strategy)
	assert.Equal(1, ch.EqColumns)

	p = build(assert, cat, "select c from item where a = 'y' and b > 'k'")
	ch = p.Levels[0].Choice
	assert.Equal(Range, ch.Strategy)
	assert.Equal(2, len(ch.Trace))
	assert.NotNil(ch.Trace[1].Lo)
	assert.Nil(ch.Trace[1].Hi)

	p = build(assert, cat, "select id from emp where name > 'b' and name <= 'm'")
	ch = p.Levels[0].Choice
	assert.Equal(Range, ch.Strategy)
	assert.NotNil(ch.Trace[0].Lo)
	assert.NotNil(ch.Trace[0].Hi)
	assert.Equal("NAME<>", ch.Describe(p.Levels[0].Table))

	p = build(assert, cat, "select id from emp where name like 'ab%'")
	ch = p.Levels[0].Choice
	assert.Equal(Range, ch.Strategy)
	assert.Equal(sql.OpLike, ch.Trace[0].Lo.Op)
	assert.Equal("ab", ch.Trace[0].Lo.Text)

	// a LIKE without wildcards is an equality
	p = build(assert, cat, "select id from emp where name like 'ab'")
	assert.Equal(ExactDup, p.Levels[0].Choice.Strategy)

	// numbers do not sort by their bytes, so no range on a numeric key
	p = build(assert, cat, "select name from emp where id > 5")
	assert.Equal(FullScan, p.Levels[0].Choice.Strategy)
	assert.Equal(-1, p.Levels[0].Choice.Index)

	p = build(assert, cat, "select id from emp where name like '%b'")
	assert.Equal(FullScan, p.Levels[0].Choice.Strategy)

	p = build(assert, cat, "select id from emp where name <> 'b'")
	assert.Equal(FullScan, p.Levels[0].Choice.Strategy)
}

func TestAssociativeIndex(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(assert)
	_, _, err := sql.Parse("create associative index bytitle on dept (title)", cat)
	assert.Nil(err)

	p := build(assert, cat, "select code from dept where title like 'sal%'")
	ch := p.Levels[0].Choice
	assert.Equal(Assoc, ch.Strategy)
	assert.Equal("BYTITLE", ch.IndexName(p.Levels[0].Table))

	// the unique key still wins
	p = build(assert, cat, "select code from dept where title = 'x' and code = 'a'")
	assert.Equal(Exact, p.Levels[0].Choice.Strategy)
}

func TestOrderSatisfied(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(assert)

	p := build(assert, cat, "select name, id from emp order by name")
	ch := p.Levels[0].Choice
	assert.True(ch.OrderSatisfied)
	assert.Equal(FullScan, ch.Strategy)
	assert.Equal("BYNAME", ch.IndexName(p.Levels[0].Table))
	assert.True(p.OrderSatisfied)
	assert.Equal(ModeDynamic, p.Mode)
	assert.Nil(p.Sort)

	p = build(assert, cat, "select name from emp order by name desc")
	assert.False(p.OrderSatisfied)
	assert.Equal(ModeMaterialized, p.Mode)
	assert.NotNil(p.Sort)
	assert.Equal(1, len(p.Sort.Keys))
	assert.True(p.Sort.Keys[0].Desc)

	// hidden sort key
	p = build(assert, cat, "select name from emp order by dept")
	assert.Equal(ModeMaterialized, p.Mode)
	assert.Equal(1, len(p.Project.Hidden))
	assert.Equal(2, len(p.Worksets[WsResult].Fields))

	p = build(assert, cat, "select name from emp order by dept for update")
	assert.Equal(ModeKeyed, p.Mode)
	assert.True(p.Project.Pos >= 0)

	p = build(assert, cat, "select name from emp order by name for update")
	assert.Equal(ModeDynamic, p.Mode)
	assert.True(p.Project.Pos >= 0)
	assert.Equal(PosShape, p.Worksets[WsResult].Fields[p.Project.Pos].Shape)
}

func TestJoinOrder(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(assert)

	a := build(assert, cat, "select e.name, d.title from emp e, dept d where d.code = e.dept and e.id = 7")
	b := build(assert, cat, "select e.name, d.title from dept d, emp e where d.code = e.dept and e.id = 7")

	names := func(p *Plan) []string {
		out := []string{}
		for _, s := range p.Levels {
			out = append(out, s.Table.Name)
		}
		return out
	}
	assert.Equal([]string{"EMP", "DEPT"}, names(a))
	assert.Equal(names(a), names(b))
	assert.Equal([]int{0, 1}, a.Ordered())
	assert.Equal([]int{1, 0}, b.Ordered())
	for _, p := range []*Plan{a, b} {
		assert.Equal(Exact, p.Levels[0].Choice.Strategy)
		assert.Equal(Exact, p.Levels[1].Choice.Strategy)
	}
}

func TestConjunctPlacement(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(assert)

	p := build(assert, cat,
		"select e.name from emp e, dept d where e.dept = d.code and e.salary > 10 and d.title = 'x' and 1 = 1")
	assert.Equal(2, len(p.Levels))
	assert.Equal([]int{0, 1}, p.Ordered())
	assert.Equal(1, len(p.Const))
	assert.Equal(1, len(p.Levels[0].Match))
	assert.Equal(2, len(p.Levels[1].Match))
	assert.Equal(Exact, p.Levels[1].Choice.Strategy)

	// the constant filter wraps the loops
	_, ok := p.Project.Input.(*Filter)
	assert.True(ok)
}

func TestLeftJoinPlacement(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(assert)

	p := build(assert, cat,
		"select e.name, d.title from emp e left join dept d on e.dept = d.code where d.title = 'x' and e.id = 1")
	assert.Equal(2, len(p.Levels))
	outer, inner := p.Levels[0], p.Levels[1]
	assert.False(outer.Left)
	assert.True(inner.Left)
	assert.Equal(1, len(outer.Match))
	assert.Equal(1, len(inner.Match))
	assert.Equal(1, len(inner.Post))
	assert.Equal(Exact, inner.Choice.Strategy)
	assert.Equal(Exact, outer.Choice.Strategy)

	j, ok := p.Project.Input.(*Join)
	assert.True(ok)
	assert.True(j.Left)

	// LEFT JOIN keeps the FROM order even when the other order is cheaper
	p = build(assert, cat,
		"select e.name from dept d left join emp e on e.dept = d.code where d.title = 'x'")
	assert.Equal([]int{0, 1}, p.Ordered())
}

func TestOrSetRewrite(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(assert)

	p := build(assert, cat, "select name from emp where id = 1 or id = 3 or id = 9")
	assert.NotNil(p.OrSet)
	assert.Equal(3, len(p.OrSet.Rows))
	assert.Equal([]int{0}, p.OrSet.Columns)
	assert.Equal(1, len(p.Worksets[WsOrSet].Fields))
	assert.Equal(Exact, p.Levels[0].Choice.Strategy)

	p = build(assert, cat, "select c from item where (a = '1' and b = '2') or (b = '4' and a = '3')")
	assert.NotNil(p.OrSet)
	assert.Equal(2, len(p.OrSet.Columns))
	assert.Equal(Exact, p.Levels[0].Choice.Strategy)

	// different columns per disjunct
	p = build(assert, cat, "select name from emp where id = 1 or name = 'x'")
	assert.Nil(p.OrSet)
	assert.Equal(FullScan, p.Levels[0].Choice.Strategy)

	// no index can use the tuples
	p = build(assert, cat, "select name from emp where dept = 'a' or dept = 'b'")
	assert.Nil(p.OrSet)

	// literal longer than the column
	p = build(assert, cat, "select c from item where (a = '123' and b = '1') or (a = '1' and b = '1')")
	assert.Nil(p.OrSet)
}

func TestAggregateLayout(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(assert)

	p := build(assert, cat, "select dept, count(*), avg(salary) from emp group by dept")
	assert.Equal(ModeMaterialized, p.Mode)
	assert.NotNil(p.Aggregate)
	assert.Equal(1, len(p.Aggregate.Groups))
	assert.Equal(2, len(p.Aggregate.Aggs))
	assert.Equal(4, len(p.Worksets[WsAccum].Fields))
	assert.Equal(2, len(p.Worksets[WsSort].Fields))
	assert.Equal(1, len(p.Worksets[WsGroup].Fields))
	assert.Equal(-1, p.Aggregate.Aggs[0].Arg)
	assert.True(p.Aggregate.Aggs[1].Sum >= 0)
	assert.Nil(p.Sort)

	p = build(assert, cat, "select count(distinct dept), max(distinct dept) from emp")
	assert.True(p.Aggregate.Distinct >= 0)
	assert.Equal(p.Aggregate.Distinct, p.Aggregate.Aggs[0].Arg)
	assert.Equal(p.Aggregate.Distinct, p.Aggregate.Aggs[1].Arg)

	p = build(assert, cat, "select distinct dept from emp")
	assert.Equal(ModeMaterialized, p.Mode)
	assert.True(p.Sort.Unique)
}

func TestModifyPlan(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(assert)

	p := build(assert, cat, "update emp set name = 'x' where id = 3")
	assert.Equal(Exact, p.Levels[0].Choice.Strategy)

	// the key being read is rewritten
	p = build(assert, cat, "update emp set id = id + 1 where id = 3")
	assert.Equal(-1, p.Levels[0].Choice.Index)

	p = build(assert, cat, "delete from emp where id = 3 and 1 = 1")
	assert.Equal(Exact, p.Levels[0].Choice.Strategy)
	assert.Equal(1, len(p.Const))

	p = build(assert, cat, "insert into emp (id) values (1)")
	assert.Nil(p.Root)
}

func TestExplain(t *testing.T) {
	assert := assert.New(t)
	cat := testCatalog(assert)

	p := build(assert, cat, "select e.name from emp e left join dept d on e.dept = d.code where e.id = 1")
	out := Explain(p)
	assert.True(strings.HasPrefix(out, "select mode=dynamic\n"), out)
	assert.True(strings.Contains(out, "join left"), out)
	assert.True(strings.Contains(out, "scan E index=PK strategy=exact key=[ID=]"), out)
	assert.True(strings.Contains(out, "scan D index=DPK strategy=exact"), out)

	p = build(assert, cat, "delete from emp where name > 'k'")
	out = Explain(p)
	assert.True(strings.HasPrefix(out, "delete EMP\n"), out)
	assert.True(strings.Contains(out, "strategy=range"), out)
}
