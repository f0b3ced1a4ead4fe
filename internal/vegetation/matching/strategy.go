package matching

import (
	"fmt"
	"sort"
)

// Strategy selects correspondences from the distance tables.
type Strategy int

const (
	// StrategyMutualNearest accepts (a, b) when each is the other's nearest
	// by symmetric Hausdorff distance.
	StrategyMutualNearest Strategy = iota
	// StrategyFirstClaim scans pairs in ascending (A, B) order and accepts
	// the first pair with a reciprocal entry for each A-index. A B-index
	// may be claimed more than once.
	StrategyFirstClaim
	// StrategyOptimal minimises the total symmetric distance over a
	// one-to-one assignment.
	StrategyOptimal
)

var strategyNames = map[Strategy]string{
	StrategyMutualNearest: "mutual",
	StrategyFirstClaim:    "first-claim",
	StrategyOptimal:       "optimal",
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy maps a strategy name to its value. The empty string
// selects StrategyMutualNearest.
func ParseStrategy(name string) (Strategy, error) {
	if name == "" {
		return StrategyMutualNearest, nil
	}
	for s, n := range strategyNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("matching: unknown strategy %q (want mutual, first-claim or optimal)", name)
}

// firstClaim reports the forward distance of every accepted pair.
func (m *Matcher) firstClaim() []Pair {
	var out []Pair
	claimed := make(map[uint32]bool)
	for _, k := range m.sortedKeys() {
		if claimed[k.A] {
			continue
		}
		if _, ok := m.reverse[k]; !ok {
			continue
		}
		claimed[k.A] = true
		out = append(out, Pair{A: k.A, B: k.B, Distance: m.forward[k]})
	}
	return out
}

func (m *Matcher) mutualNearest() []Pair {
	type best struct {
		other uint32
		dist  float64
	}
	bestForA := make(map[uint32]best)
	bestForB := make(map[uint32]best)

	keys := m.sortedKeys()
	for _, k := range keys {
		d, ok := m.symmetric(k)
		if !ok {
			continue
		}
		// Keys ascend, so strict comparison keeps the lowest index on ties.
		if cur, seen := bestForA[k.A]; !seen || d < cur.dist {
			bestForA[k.A] = best{k.B, d}
		}
		if cur, seen := bestForB[k.B]; !seen || d < cur.dist {
			bestForB[k.B] = best{k.A, d}
		}
	}

	var out []Pair
	for _, k := range keys {
		ba, ok := bestForA[k.A]
		if !ok || ba.other != k.B {
			continue
		}
		if bb := bestForB[k.B]; bb.other == k.A {
			out = append(out, Pair{A: k.A, B: k.B, Distance: ba.dist})
		}
	}
	return out
}

func (m *Matcher) optimal() []Pair {
	rowOf := make(map[uint32]int)
	colOf := make(map[uint32]int)
	var rows, cols []uint32
	for k := range m.forward {
		if _, ok := m.symmetric(k); !ok {
			continue
		}
		if _, ok := rowOf[k.A]; !ok {
			rowOf[k.A] = 0
			rows = append(rows, k.A)
		}
		if _, ok := colOf[k.B]; !ok {
			colOf[k.B] = 0
			cols = append(cols, k.B)
		}
	}
	if len(rows) == 0 {
		return nil
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i] < rows[j] })
	sort.Slice(cols, func(i, j int) bool { return cols[i] < cols[j] })
	for i, a := range rows {
		rowOf[a] = i
	}
	for j, b := range cols {
		colOf[b] = j
	}

	cost := make([][]float64, len(rows))
	for i := range cost {
		cost[i] = make([]float64, len(cols))
		for j := range cost[i] {
			cost[i][j] = forbiddenCost
		}
	}
	for k := range m.forward {
		if d, ok := m.symmetric(k); ok {
			cost[rowOf[k.A]][colOf[k.B]] = d
		}
	}

	var out []Pair
	for i, j := range assign(cost) {
		if j < 0 {
			continue
		}
		out = append(out, Pair{A: rows[i], B: cols[j], Distance: cost[i][j]})
	}
	return out
}
