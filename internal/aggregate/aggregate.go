// Package aggregate collects the live result stream of a run and groups
// device outputs for review. Grouping answers the fleet question "which
// devices answered differently": devices with identical output for the same
// command collapse into one group, the largest group is the norm, and every
// outlier group carries a unified diff against it.
package aggregate

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mindwolf80/nice/internal/runner"
)

// Collector accumulates results as they arrive from a run's stream. It is
// safe for concurrent use, though a single drain loop is the usual caller.
type Collector struct {
	mu       sync.Mutex
	byDevice map[string][]runner.Result
	order    []string // devices in first-seen order
	counts   map[runner.Status]int
	total    int
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{
		byDevice: make(map[string][]runner.Result),
		counts:   make(map[runner.Status]int),
	}
}

// Add records one result. Per-device arrival order is preserved, which
// matches command order within a device.
func (c *Collector) Add(res runner.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := res.Host
	if _, seen := c.byDevice[key]; !seen {
		c.order = append(c.order, key)
	}
	c.byDevice[key] = append(c.byDevice[key], res)
	c.counts[res.Status]++
	c.total++
}

// Devices returns the device hosts in first-seen order.
func (c *Collector) Devices() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Results returns the recorded results for one device, in arrival order.
func (c *Collector) Results(host string) []runner.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	src := c.byDevice[host]
	out := make([]runner.Result, len(src))
	copy(out, src)
	return out
}

// All returns every recorded result, devices in first-seen order.
func (c *Collector) All() []runner.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []runner.Result
	for _, host := range c.order {
		out = append(out, c.byDevice[host]...)
	}
	return out
}

// Count returns how many results carry the given status.
func (c *Collector) Count(status runner.Status) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[status]
}

// Total returns the number of recorded results.
func (c *Collector) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Commands returns the distinct commands seen across all results, in
// first-seen order. Connection and skip markers are excluded.
func (c *Collector) Commands() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, host := range c.order {
		for _, r := range c.byDevice[host] {
			if r.Command == runner.ConnectMarker || r.Command == runner.SkippedMarker {
				continue
			}
			if !seen[r.Command] {
				seen[r.Command] = true
				out = append(out, r.Command)
			}
		}
	}
	return out
}

// OutputGroup is a set of devices that produced identical output for one
// command.
type OutputGroup struct {
	Hosts  []string
	Output string
	Status runner.Status
	IsNorm bool   // true for the largest (majority) group
	Diff   string // unified diff vs the norm group; empty for the norm itself
}

// Grouped holds the categorized results of one command across devices.
type Grouped struct {
	Command string
	Groups  []OutputGroup
	Failed  []runner.Result // transport failures, reported individually
	Skipped []runner.Result
}

// GroupCommand collapses the results for one command into output groups.
// Device-rejected and successful outputs group alike, so 20 devices all
// rejecting a command appear as one group rather than 20 entries. Transport
// failures and skips never group: their output is not comparable.
func GroupCommand(results []runner.Result, command string) *Grouped {
	gr := &Grouped{Command: command}

	type entry struct {
		hash   string
		result runner.Result
	}
	var comparable []entry

	for _, r := range results {
		if r.Command != command {
			continue
		}
		switch r.Status {
		case runner.TransportError:
			gr.Failed = append(gr.Failed, r)
			continue
		case runner.Skipped:
			gr.Skipped = append(gr.Skipped, r)
			continue
		}
		// The status participates in the hash so a rejected output can
		// never merge with an identical-looking successful one.
		h := sha256.Sum256([]byte(fmt.Sprintf("%d\x00%s", r.Status, r.Output)))
		comparable = append(comparable, entry{hash: fmt.Sprintf("%x", h), result: r})
	}

	if len(comparable) == 0 {
		return gr
	}

	type groupData struct {
		hosts  []string
		output string
		status runner.Status
	}
	groups := make(map[string]*groupData)
	var hashOrder []string // insertion order keeps output deterministic

	for _, e := range comparable {
		g, ok := groups[e.hash]
		if !ok {
			g = &groupData{output: e.result.Output, status: e.result.Status}
			groups[e.hash] = g
			hashOrder = append(hashOrder, e.hash)
		}
		g.hosts = append(g.hosts, e.result.Host)
	}

	// The norm is the largest group; ties go to the first seen.
	normHash := hashOrder[0]
	for _, h := range hashOrder[1:] {
		if len(groups[h].hosts) > len(groups[normHash].hosts) {
			normHash = h
		}
	}

	norm := groups[normHash]
	sort.Strings(norm.hosts)
	gr.Groups = append(gr.Groups, OutputGroup{
		Hosts:  norm.hosts,
		Output: norm.output,
		Status: norm.status,
		IsNorm: true,
	})

	for _, h := range hashOrder {
		if h == normHash {
			continue
		}
		g := groups[h]
		sort.Strings(g.hosts)
		gr.Groups = append(gr.Groups, OutputGroup{
			Hosts:  g.hosts,
			Output: g.output,
			Status: g.status,
			Diff:   unifiedDiff(norm.output, g.output),
		})
	}

	return gr
}

// maxDiffLines is the maximum number of lines (in either input) before the
// diff engine gives up computing an LCS and falls back to showing the full
// removal/addition. This avoids O(n*m) blowup on very large outputs.
const maxDiffLines = 500

// unifiedDiff computes a simple unified diff between the norm output and an
// outlier's output.
func unifiedDiff(a, b string) string {
	aLines := splitLines(a)
	bLines := splitLines(b)

	var out strings.Builder
	out.WriteString("--- norm\n")
	out.WriteString("+++ outlier\n")

	if len(aLines) > maxDiffLines || len(bLines) > maxDiffLines {
		for _, line := range aLines {
			out.WriteString("-")
			out.WriteString(line)
			out.WriteString("\n")
		}
		for _, line := range bLines {
			out.WriteString("+")
			out.WriteString(line)
			out.WriteString("\n")
		}
		return out.String()
	}

	lcs := computeLCS(aLines, bLines)
	ai, bi, li := 0, 0, 0

	for li < len(lcs) {
		for ai < len(aLines) && aLines[ai] != lcs[li] {
			out.WriteString("-")
			out.WriteString(aLines[ai])
			out.WriteString("\n")
			ai++
		}
		for bi < len(bLines) && bLines[bi] != lcs[li] {
			out.WriteString("+")
			out.WriteString(bLines[bi])
			out.WriteString("\n")
			bi++
		}
		out.WriteString(" ")
		out.WriteString(lcs[li])
		out.WriteString("\n")
		ai++
		bi++
		li++
	}

	for ai < len(aLines) {
		out.WriteString("-")
		out.WriteString(aLines[ai])
		out.WriteString("\n")
		ai++
	}
	for bi < len(bLines) {
		out.WriteString("+")
		out.WriteString(bLines[bi])
		out.WriteString("\n")
		bi++
	}

	return out.String()
}

// splitLines splits a string into lines, handling the trailing newline
// gracefully.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// computeLCS returns the longest common subsequence of two string slices.
func computeLCS(a, b []string) []string {
	m, n := len(a), len(b)
	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}
	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if a[i-1] == b[j-1] {
				dp[i][j] = dp[i-1][j-1] + 1
			} else if dp[i-1][j] >= dp[i][j-1] {
				dp[i][j] = dp[i-1][j]
			} else {
				dp[i][j] = dp[i][j-1]
			}
		}
	}

	lcs := make([]string, 0, dp[m][n])
	i, j := m, n
	for i > 0 && j > 0 {
		if a[i-1] == b[j-1] {
			lcs = append(lcs, a[i-1])
			i--
			j--
		} else if dp[i-1][j] >= dp[i][j-1] {
			i--
		} else {
			j--
		}
	}
	for l, r := 0, len(lcs)-1; l < r; l, r = l+1, r-1 {
		lcs[l], lcs[r] = lcs[r], lcs[l]
	}
	return lcs
}
