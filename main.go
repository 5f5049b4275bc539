package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dianpeng/fsql/engine"
	"github.com/dianpeng/fsql/format"
	"github.com/dianpeng/fsql/logger"
	"github.com/dianpeng/fsql/server"
	"github.com/dianpeng/fsql/vm"
	"github.com/fatih/color"
)

var fConfig = flag.String(
	"config",
	"",
	"path of the JSON configuration file",
)

var fSchema = flag.String(
	"schema",
	"",
	"schema description file, overrides the configuration",
)

var fData = flag.String(
	"data",
	"",
	"directory of the table files, overrides the configuration",
)

var fExec = flag.String(
	"e",
	"",
	"statements to run, ';' separated; read from STDIN when empty",
)

var fListen = flag.String(
	"listen",
	"",
	"serve the websocket protocol on this address instead of running statements",
)

var fExplain = flag.Bool(
	"explain",
	false,
	"print the plan and the program of each statement instead of running it",
)

var fFormat = flag.String(
	"format",
	"",
	"result table layout, plain or color; color when STDOUT is a terminal",
)

var fVerbose = flag.Bool(
	"v",
	false,
	"verbose logging",
)

func oops(stage string, err error) {
	fmt.Fprintf(os.Stderr, "ERROR [%s] %s\n", stage, err)
	os.Exit(-1)
}

func readStdin() string {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		oops("read sql", err)
	}
	return string(data)
}

// splitStatements cuts text at ';' outside string literals.
func splitStatements(text string) []string {
	out := []string{}
	quoted := false
	start := 0
	for i, c := range text {
		switch c {
		case '\'':
			quoted = !quoted
			break
		case ';':
			if !quoted {
				out = append(out, text[start:i])
				start = i + 1
			}
			break
		}
	}
	out = append(out, text[start:])

	stmts := []string{}
	for _, s := range out {
		if s = strings.TrimSpace(s); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}

func loadConfig() *engine.Config {
	cfg := engine.DefaultConfig()
	if *fConfig != "" {
		c, err := engine.LoadConfig(*fConfig)
		if err != nil {
			oops("config", err)
		}
		cfg = c
	}
	if *fSchema != "" {
		cfg.SchemaPath = *fSchema
	}
	if *fData != "" {
		cfg.DataDir = *fData
	}
	if *fVerbose {
		cfg.LogLevel = "debug"
	}
	if *fListen != "" {
		cfg.Listen = *fListen
	}
	return cfg
}

func tableFormat() *format.Format {
	name := *fFormat
	if name == "" {
		if color.NoColor {
			name = "plain"
		} else {
			name = "color"
		}
	}
	f, err := format.ByName(name)
	if err != nil {
		oops("format", err)
	}
	return f
}

// printResult drains a result set into a table.
func printResult(c *engine.Conn, res *engine.Result, f *format.Format) error {
	columns := []string{}
	for _, col := range res.Columns {
		columns = append(columns, col.Name)
	}
	rows := [][]format.Value{}
	if res.RSID != 0 {
		defer c.Discard(res.RSID)
		for {
			r, err := c.Fetch(res.RSID, engine.Next, 0)
			if err != nil {
				return err
			}
			if r == nil {
				break
			}
			row := make([]format.Value, len(r.Values))
			for i, v := range r.Values {
				row[i] = format.Value{
					Text:    v,
					Null:    r.Nulls[i],
					Numeric: res.Columns[i].Numeric,
				}
			}
			rows = append(rows, row)
		}
	}
	if err := f.Write(os.Stdout, columns, rows); err != nil {
		return err
	}
	fmt.Printf("(%d rows)\n", len(rows))
	return nil
}

func run(e *engine.Engine, stmts []string) {
	c := e.Connect()
	defer c.Close()
	f := tableFormat()

	for _, text := range stmts {
		if *fExplain {
			out, err := e.Explain(text)
			if err != nil {
				oops("explain", err)
			}
			fmt.Println(out)
			continue
		}

		res, err := c.Execute(text)
		if err != nil {
			oops("execute", err)
		}
		for _, w := range res.Warnings {
			logger.Warnf("%s", w)
		}
		switch res.Status {
		case vm.StatusCount:
			fmt.Printf("%d rows affected\n", res.Count)
			break
		case vm.StatusExecuted:
			fmt.Println("ok")
			break
		default:
			if err := printResult(c, res, f); err != nil {
				oops("fetch", err)
			}
			break
		}
	}
}

func main() {
	flag.Parse()
	cfg := loadConfig()

	e, err := engine.New(cfg)
	if err != nil {
		oops("open", err)
	}

	if *fListen != "" {
		if err := server.New(e).Listen(cfg.Listen); err != nil {
			oops("listen", err)
		}
	} else {
		s := *fExec
		if s == "" {
			s = readStdin()
		}
		run(e, splitStatements(s))
	}

	if err := e.Close(); err != nil {
		oops("close", err)
	}
	os.Exit(0)
}
