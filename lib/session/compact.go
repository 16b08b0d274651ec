// Copyright 2026 The Yurucode Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/yurucode/yurucode/lib/stream"
)

// topicLimit caps how many derived topics the summary names.
const topicLimit = 5

// openingWordLimit is how many words of each user turn's opening are
// mined for topics.
const openingWordLimit = 12

// CompactionReport is attached to the rewritten compaction record.
type CompactionReport struct {
	SavedTokens int64  `json:"saved_tokens"`
	Summary     string `json:"summary"`
}

// compact handles the compaction signal as one synchronous unit:
//
//  1. capture the token total being discarded,
//  2. synthesize a summary from the bounded history,
//  3. zero every token counter and clear the history together,
//  4. increment the compaction count and stamp the time,
//  5. rewrite the record's empty result text with the summary and
//     attach {saved_tokens, summary}.
//
// Steps 3–5 are inseparable: the interpreter runs on a single
// goroutine per session, so no reader can observe the counters reset
// without the matching count increment and summary.
func (interpreter *Interpreter) compact(record *stream.Record, now time.Time) CompactionReport {
	ledger := interpreter.ledger

	report := CompactionReport{
		SavedTokens: ledger.TotalTokens(),
		Summary:     synthesizeSummary(ledger),
	}

	ledger.resetForCompaction()
	ledger.CompactionCount++
	ledger.LastCompaction = now
	ledger.SavedTokensTotal += report.SavedTokens

	record.SetResultText(report.Summary)
	if err := record.Attach("compaction", report); err != nil {
		// Attach only fails for unserializable values; the report is
		// plain data, so this is unreachable in practice.
		interpreter.logger.Warn("attaching compaction report", "error", err)
	}

	interpreter.logger.Info("context compacted",
		"session_id", ledger.SessionID,
		"saved_tokens", report.SavedTokens,
		"compaction_count", ledger.CompactionCount,
	)
	return report
}

// synthesizeSummary derives a human-readable summary of the discarded
// context from the bounded history: tool names used, rough topics from
// word frequency in user-turn openings, and artifact counts. Purely
// mechanical -- no model call is available at this point, the context
// is already gone.
func synthesizeSummary(ledger *Ledger) string {
	var builder strings.Builder
	builder.WriteString("Context compacted")
	if count := len(ledger.History); count > 0 {
		fmt.Fprintf(&builder, " after %d message(s)", count)
	}
	builder.WriteString(".")

	if topics := historyTopics(ledger.History); len(topics) > 0 {
		fmt.Fprintf(&builder, " Topics: %s.", strings.Join(topics, ", "))
	}

	toolNames, toolCalls := historyTools(ledger.History)
	if len(toolNames) > 0 {
		fmt.Fprintf(&builder, " Tools used: %s (%d call(s)).",
			strings.Join(toolNames, ", "), toolCalls)
	}

	if artifacts := historyArtifacts(ledger.History); artifacts > 0 {
		fmt.Fprintf(&builder, " Code artifacts: %d.", artifacts)
	}

	return builder.String()
}

// historyTools returns unique tool names in first-use order, plus the
// total call count.
func historyTools(history []HistoryEntry) ([]string, int) {
	seen := make(map[string]bool)
	var names []string
	calls := 0
	for _, entry := range history {
		for _, call := range entry.ToolCalls {
			calls++
			if !seen[call.Name] {
				seen[call.Name] = true
				names = append(names, call.Name)
			}
		}
	}
	return names, calls
}

// historyTopics mines the openings of user turns for frequent
// non-trivial words. Deterministic: ranked by count, ties
// alphabetical.
func historyTopics(history []HistoryEntry) []string {
	counts := make(map[string]int)
	for _, entry := range history {
		if entry.Role != "user" {
			continue
		}
		words := strings.Fields(entry.Text)
		if len(words) > openingWordLimit {
			words = words[:openingWordLimit]
		}
		for _, word := range words {
			word = strings.ToLower(strings.Trim(word, ".,;:!?\"'`()[]{}"))
			if len(word) < 4 || stopwords[word] {
				continue
			}
			counts[word]++
		}
	}

	topics := make([]string, 0, len(counts))
	for word := range counts {
		topics = append(topics, word)
	}
	sort.Slice(topics, func(i, j int) bool {
		if counts[topics[i]] != counts[topics[j]] {
			return counts[topics[i]] > counts[topics[j]]
		}
		return topics[i] < topics[j]
	})
	if len(topics) > topicLimit {
		topics = topics[:topicLimit]
	}
	return topics
}

// historyArtifacts counts code-producing activity: write-class tool
// calls plus fenced code blocks in assistant turns.
func historyArtifacts(history []HistoryEntry) int {
	artifacts := 0
	for _, entry := range history {
		for _, call := range entry.ToolCalls {
			switch call.Name {
			case "Write", "Edit", "MultiEdit", "NotebookEdit":
				artifacts++
			}
		}
		if entry.Role == "assistant" {
			artifacts += strings.Count(entry.Text, "```") / 2
		}
	}
	return artifacts
}

// stopwords filters connective words out of topic mining.
var stopwords = map[string]bool{
	"about": true, "after": true, "again": true, "also": true,
	"been": true, "being": true, "could": true, "does": true,
	"don't": true, "file": true, "from": true, "have": true,
	"here": true, "into": true, "it's": true, "just": true,
	"like": true, "make": true, "more": true, "need": true, "only": true,
	"please": true, "should": true, "some": true, "than": true,
	"that": true, "their": true, "them": true,
	"then": true, "there": true, "these": true, "they": true,
	"this": true, "those": true, "want": true, "what": true,
	"when": true, "where": true, "which": true, "will": true,
	"with": true, "would": true, "your": true,
}
