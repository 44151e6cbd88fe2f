// SPDX-License-Identifier: MIT

// Package sched turns timer ticks into pipeline runs. It owns topic
// selection, the daily quota bookkeeping and the concurrency cap; actual
// execution belongs to the run coordinator.
package sched

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// dayFormat is the UTC calendar day used for quota accounting.
const dayFormat = "2006-01-02"

// Rule is one topic record from the topic source file.
type Rule struct {
	Topic          string `yaml:"topic"`
	DailyFrequency int    `yaml:"dailyFrequency"`
	LastUsed       string `yaml:"lastUsed,omitempty"` // YYYY-MM-DD, UTC
	Priority       int    `yaml:"priority"`
}

type topicFile struct {
	Topics []Rule `yaml:"topics"`
}

// LoadRules reads and validates the topic source file.
func LoadRules(path string) ([]Rule, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("sched: read topic source: %w", err)
	}
	var f topicFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("sched: parse topic source %s: %w", path, err)
	}
	seen := map[string]bool{}
	for i, r := range f.Topics {
		if r.Topic == "" {
			return nil, fmt.Errorf("sched: topic source %s: entry %d has empty topic", path, i)
		}
		if seen[r.Topic] {
			return nil, fmt.Errorf("sched: topic source %s: duplicate topic %q", path, r.Topic)
		}
		seen[r.Topic] = true
		if r.DailyFrequency <= 0 {
			return nil, fmt.Errorf("sched: topic source %s: topic %q has non-positive dailyFrequency", path, r.Topic)
		}
		if r.LastUsed != "" {
			if _, err := time.Parse(dayFormat, r.LastUsed); err != nil {
				return nil, fmt.Errorf("sched: topic source %s: topic %q has invalid lastUsed: %w", path, r.Topic, err)
			}
		}
	}
	return f.Topics, nil
}

// ruleState is a Rule plus the in-memory quota counters. Counters survive
// hot reloads of the source file but not a daemon restart; a restart seeds
// one fire for every topic whose lastUsed is the current day.
type ruleState struct {
	Rule
	lastDay    string
	firedToday int
}

// seed builds initial state for freshly loaded rules, carrying counters
// over from prev where the topic still exists.
func seed(rules []Rule, prev map[string]*ruleState, today string) []*ruleState {
	out := make([]*ruleState, 0, len(rules))
	for _, r := range rules {
		st := &ruleState{Rule: r}
		if old, ok := prev[r.Topic]; ok {
			st.lastDay = old.lastDay
			st.firedToday = old.firedToday
			if old.LastUsed > st.LastUsed {
				st.LastUsed = old.LastUsed
			}
		} else if r.LastUsed == today {
			st.lastDay = today
			st.firedToday = 1
		}
		out = append(out, st)
	}
	// Highest priority first; name breaks ties so selection is stable.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Topic < out[j].Topic
	})
	return out
}

// rollover resets the counter when the UTC day changed.
func (st *ruleState) rollover(today string) {
	if st.lastDay != today {
		st.lastDay = today
		st.firedToday = 0
	}
}

// eligible reports whether the topic may fire today.
func (st *ruleState) eligible(today string) bool {
	st.rollover(today)
	return st.firedToday < st.DailyFrequency
}
