// Command inspect dumps raw store keys for debugging. It opens the
// Pebble directory read-only, so it is safe to point at a live DB copy.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/cockroachdb/pebble"
)

func main() {
	var (
		path   string
		prefix string
		values bool
		limit  int
	)
	flag.StringVar(&path, "db", "", "pebble DB path")
	flag.StringVar(&prefix, "prefix", "", "key prefix filter (e.g. thread:, msg:, user:)")
	flag.BoolVar(&values, "values", false, "print values as well as keys")
	flag.IntVar(&limit, "limit", 0, "stop after N keys (0 = all)")
	flag.Parse()
	if path == "" {
		fmt.Fprintln(os.Stderr, "--db required")
		os.Exit(2)
	}

	db, err := pebble.Open(path, &pebble.Options{ReadOnly: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", path, err)
		os.Exit(1)
	}
	defer db.Close()

	opts := &pebble.IterOptions{}
	if prefix != "" {
		opts.LowerBound = []byte(prefix)
		opts.UpperBound = upperBound([]byte(prefix))
	}
	iter, err := db.NewIter(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "iter: %v\n", err)
		os.Exit(1)
	}
	defer iter.Close()

	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		if values {
			fmt.Printf("%s\t%s\n", iter.Key(), iter.Value())
		} else {
			fmt.Printf("%s\n", iter.Key())
		}
		n++
		if limit > 0 && n >= limit {
			break
		}
	}
	fmt.Fprintf(os.Stderr, "%d keys\n", n)
}

// upperBound returns the smallest key greater than every key with the
// given prefix.
func upperBound(prefix []byte) []byte {
	ub := append([]byte(nil), prefix...)
	for i := len(ub) - 1; i >= 0; i-- {
		if ub[i] < 0xff {
			ub[i]++
			return ub[:i+1]
		}
	}
	return nil
}
