// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Command s3sql runs read-only SQL queries against a SQLite database
// file that lives as a single, versioned S3 object, without ever
// downloading the whole object.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sneller-labs/s3sql/aws"
	"github.com/sneller-labs/s3sql/query"
)

var (
	dashv       bool
	dashh       bool
	dashe       string
	dashtimeout time.Duration
	dashfirst   bool
)

func init() {
	flag.BoolVar(&dashv, "v", false, "verbose: print each statement's column names before its rows")
	flag.BoolVar(&dashh, "h", false, "show usage help")
	flag.StringVar(&dashe, "e", "", "SQL text to run (default: the arguments after the URL, joined by spaces)")
	flag.DurationVar(&dashtimeout, "timeout", 0, "timeout for the whole run, shared by every statement (default: no timeout)")
	flag.BoolVar(&dashfirst, "first", false, "stop after the first statement's results (query, not query_multi)")
}

func exitf(f string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, f+"\n", args...)
	os.Exit(1)
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [flags] <s3-url> [sql]\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if dashh || flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	url := flag.Arg(0)
	sql := dashe
	if sql == "" {
		sql = strings.Join(flag.Args()[1:], " ")
	}
	if sql == "" {
		exitf("no SQL text given (pass -e or a second argument)")
	}

	creds, err := aws.AmbientProvider()
	if err != nil {
		exitf("resolving AWS credentials: %s", err)
	}

	ctx := context.Background()
	if dashtimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dashtimeout)
		defer cancel()
	}

	sess, err := query.Open(ctx, url, creds, nil)
	if err != nil {
		exitf("opening session: %s", err)
	}
	defer sess.Close()

	w := csv.NewWriter(os.Stdout)
	defer w.Flush()

	if dashfirst {
		runSingle(ctx, sess, sql, w)
		return
	}
	runMulti(ctx, sess, sql, w)
}

func runSingle(ctx context.Context, sess *query.Session, sql string, w *csv.Writer) {
	cols, cur, err := sess.Query(ctx, sql, nil, nil)
	if err != nil {
		exitf("query: %s", err)
	}
	defer cur.Finalize()
	if dashv {
		fmt.Fprintf(os.Stderr, "# columns: %s\n", strings.Join(cols, ", "))
	}
	emit(ctx, cols, cur, w)
}

func runMulti(ctx context.Context, sess *query.Session, sql string, w *csv.Writer) {
	mc, err := sess.QueryMulti(ctx, sql, nil, nil)
	if err != nil {
		exitf("query: %s", err)
	}
	for mc.Next() {
		if dashv {
			fmt.Fprintf(os.Stderr, "# columns: %s\n", strings.Join(mc.Columns(), ", "))
		}
		emit(ctx, mc.Columns(), mc.Rows(), w)
	}
	if err := mc.Err(); err != nil {
		exitf("query: %s", err)
	}
}

func emit(ctx context.Context, cols []string, cur *query.RowCursor, w *csv.Writer) {
	w.Write(cols)
	record := make([]string, len(cols))
	for {
		row, ok, err := cur.Next(ctx)
		if err != nil {
			exitf("row: %s", err)
		}
		if !ok {
			break
		}
		for i, v := range row {
			record[i] = v.String()
		}
		w.Write(record)
	}
	w.Flush()
}
