package model

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// HUC is a hydrologic unit code. Each two extra digits refine the parent unit,
// so an 8-digit code always starts with its 6- and 4-digit ancestors.
type HUC string

// ParseHUC validates a raw code. Codes must be all digits with an even length
// between 4 and 12.
func ParseHUC(raw string) (HUC, error) {
	s := strings.TrimSpace(raw)
	if len(s) < 4 || len(s) > 12 || len(s)%2 != 0 {
		return "", eris.Errorf("model: invalid HUC %q: length must be 4, 6, 8, 10 or 12", raw)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", eris.Errorf("model: invalid HUC %q: non-digit character", raw)
		}
	}
	return HUC(s), nil
}

// Level returns the number of digits in the code.
func (h HUC) Level() int { return len(h) }

// HU4 returns the 4-digit subregion the code belongs to.
func (h HUC) HU4() HUC { return h.prefix(4) }

// HU6 returns the 6-digit basin the code belongs to.
func (h HUC) HU6() HUC { return h.prefix(6) }

func (h HUC) prefix(n int) HUC {
	if len(h) <= n {
		return h
	}
	return h[:n]
}

func (h HUC) String() string { return string(h) }

// UniqueHU4s truncates every code to its 4-digit parent and removes duplicates.
// The result is sorted so runs over the same input are reproducible.
func UniqueHU4s(codes []HUC) []HUC {
	seen := make(map[HUC]struct{}, len(codes))
	for _, c := range codes {
		seen[c.HU4()] = struct{}{}
	}
	return sortedKeys(seen)
}

// UniqueHU6s returns the distinct 6-digit prefixes of codes, sorted.
func UniqueHU6s(codes []HUC) []HUC {
	seen := make(map[HUC]struct{}, len(codes))
	for _, c := range codes {
		if c.Level() >= 6 {
			seen[c.HU6()] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

func sortedKeys(m map[HUC]struct{}) []HUC {
	out := make([]HUC, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
