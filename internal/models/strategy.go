package models

import "fmt"

type Side string

const (
	SideHold Side = "HOLD"
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Policy — способ свести голоса таймфреймов в одно решение.
type Policy string

const (
	PolicyUnanimous        Policy = "unanimous"
	PolicyWeightedMajority Policy = "weighted_majority"
	PolicyHierarchical     Policy = "hierarchical"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyUnanimous, PolicyWeightedMajority, PolicyHierarchical:
		return p, nil
	}
	return "", fmt.Errorf("unknown resolution policy %q", s)
}

// Vote — мнение одного таймфрейма на текущем тике.
type Vote struct {
	Timeframe string
	Side      Side
	Strength  float64
	Evidence  []string
	Absent    bool // по таймфрейму ещё не закрылось ни одной свечи
}

func Hold(tf string, evidence ...string) Vote {
	return Vote{Timeframe: tf, Side: SideHold, Evidence: evidence}
}
