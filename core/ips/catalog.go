package ips

import (
	"sort"
	"strings"
)

// CVERuleMap maps upper-cased CVE identifiers to the rules that remediate them.
type CVERuleMap struct {
	byCVE map[string]intSet
}

// BuildIndex derives the CVE to rule mapping from a full rule catalog. A rule
// may cover several CVEs and a CVE may be covered by several rules.
func BuildIndex(catalog []Rule) CVERuleMap {
	idx := CVERuleMap{byCVE: make(map[string]intSet)}
	for _, rule := range catalog {
		for _, cve := range rule.CVEs {
			key := NormalizeCVE(cve)
			if key == "" {
				continue
			}
			set, ok := idx.byCVE[key]
			if !ok {
				set = make(intSet)
				idx.byCVE[key] = set
			}
			set[rule.ID] = struct{}{}
		}
	}
	return idx
}

// Lookup returns the sorted rule IDs mapped to cve, or nil.
func (m CVERuleMap) Lookup(cve string) []int {
	set := m.byCVE[NormalizeCVE(cve)]
	if len(set) == 0 {
		return nil
	}
	return set.sorted()
}

// Len returns the number of distinct CVEs in the map.
func (m CVERuleMap) Len() int {
	return len(m.byCVE)
}

// CVEs lists the indexed identifiers in sorted order.
func (m CVERuleMap) CVEs() []string {
	out := make([]string, 0, len(m.byCVE))
	for cve := range m.byCVE {
		out = append(out, cve)
	}
	sort.Strings(out)
	return out
}

// NormalizeCVE trims and upper-cases a CVE identifier.
func NormalizeCVE(cve string) string {
	return strings.ToUpper(strings.TrimSpace(cve))
}
