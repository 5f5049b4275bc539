package plan

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/cznic/strutil"
	"github.com/dianpeng/fsql/sql"
)

// Printing the plan out, for testing, debugging, visualization purpose etc ...

func Explain(p *Plan) string {
	buf := &bytes.Buffer{}
	w := strutil.IndentFormatter(buf, "  ")
	p.explain(w)
	return buf.String()
}

func (self *Plan) format(root int) string {
	return self.Tree.Format(root, self.Tables)
}

func (self *Plan) formatList(list []int) string {
	out := []string{}
	for _, x := range list {
		out = append(out, self.format(x))
	}
	return strings.Join(out, " and ")
}

func (self *Plan) explain(w strutil.Formatter) {
	switch s := self.Stmt.(type) {
	case *sql.Select:
		w.Format("select mode=%s%i\n", self.Mode)
		self.explainNode(self.Root, w)
		w.Format("%u")
		break
	case *sql.Update:
		w.Format("update %s%i\n", s.Table.Name)
		for _, set := range s.Sets {
			w.Format("set %s = %s\n", s.Table.Table.Columns[set.Column].Name, self.format(set.Expr))
		}
		self.explainNode(self.Root, w)
		w.Format("%u")
		break
	case *sql.Delete:
		w.Format("delete %s%i\n", s.Table.Name)
		self.explainNode(self.Root, w)
		w.Format("%u")
		break
	case *sql.Insert:
		w.Format("insert %s values=%d\n", s.Table.Name, len(s.Values))
		break
	case *sql.Lock:
		if s.Unlock {
			w.Format("unlock %s\n", s.Table.Name)
		} else {
			w.Format("lock %s\n", s.Table.Name)
		}
		break
	case *sql.DDL:
		w.Format("ddl %s %s\n", s.Action, s.Table)
		break
	}
}

func (self *Plan) explainNode(n Node, w strutil.Formatter) {
	switch x := n.(type) {
	case *Project:
		w.Format("project")
		for i, item := range x.Items {
			w.Format(" %s", self.format(item))
			if i+1 < len(x.Items) {
				w.Format(",")
			}
		}
		if x.Pos >= 0 {
			w.Format(" +pos")
		}
		w.Format("%i\n")
		self.explainNode(x.Input, w)
		w.Format("%u")
		break

	case *Sort:
		keys := []string{}
		res := &self.Worksets[WsResult]
		for _, k := range x.Keys {
			dir := "asc"
			if k.Desc {
				dir = "desc"
			}
			keys = append(keys, fmt.Sprintf("%s %s", res.Fields[k.Field].Name, dir))
		}
		w.Format("sort [%s] unique=%v%i\n", strings.Join(keys, ", "), x.Unique)
		self.explainNode(x.Input, w)
		w.Format("%u")
		break

	case *Aggregate:
		groups := []string{}
		for _, g := range x.Groups {
			groups = append(groups, self.format(g.Node))
		}
		aggs := []string{}
		for _, a := range x.Aggs {
			name := sql.AggName(a.Func.Fn)
			if a.Func.Fn != sql.AggCountStar {
				d := ""
				if a.Func.Distinct {
					d = "distinct "
				}
				name = fmt.Sprintf("%s(%s%s)", name, d, self.format(a.Func.Arg))
			}
			aggs = append(aggs, name)
		}
		w.Format("aggregate groups=[%s] aggs=[%s]", strings.Join(groups, ", "), strings.Join(aggs, ", "))
		if x.Having >= 0 {
			w.Format(" having %s", self.format(x.Having))
		}
		w.Format("%i\n")
		self.explainNode(x.Input, w)
		w.Format("%u")
		break

	case *Filter:
		w.Format("filter %s%i\n", self.formatList(x.Conds))
		self.explainNode(x.Input, w)
		w.Format("%u")
		break

	case *Join:
		kind := "inner"
		if x.Left {
			kind = "left"
		}
		w.Format("join %s%i\n", kind)
		self.explainNode(x.Outer, w)
		self.explainNode(x.Inner, w)
		w.Format("%u")
		break

	case *OrSet:
		w.Format("orset rows=%d columns=%d\n", len(x.Rows), len(x.Columns))
		break

	case *Scan:
		w.Format("scan %s index=%s strategy=%s", x.Name, x.Choice.IndexName(x.Table), StrategyName(x.Choice.Strategy))
		if k := x.Choice.Describe(x.Table); k != "" {
			w.Format(" key=[%s]", k)
		}
		if x.Choice.OrderSatisfied {
			w.Format(" ordered")
		}
		w.Format("%i\n")
		if len(x.Match) > 0 {
			w.Format("match %s\n", self.formatList(x.Match))
		}
		if len(x.Post) > 0 {
			w.Format("post %s\n", self.formatList(x.Post))
		}
		if x.Filter != nil {
			w.Format("rowfilter %s = %q\n", x.Filter.Column, x.Filter.Value)
		}
		w.Format("%u")
		break
	}
}
