// Package harness launches benchmark client processes and collects their
// results.
package harness

import "github.com/weiihann/tangobench/bench"

// Result is the outcome reported by one client process.
type Result struct {
	Worker int `json:"worker"`
	bench.Result
}
