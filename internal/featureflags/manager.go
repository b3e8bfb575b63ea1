// Package featureflags evaluates the FEATURE_FLAGS list that switches
// scheduled jobs and staged rollouts on and off.
package featureflags

import (
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
)

// Flag names read by the scheduler.
const (
	RankRefresh    = "rank_refresh"
	WeeklyReport   = "weekly_report"
	PointsExpiring = "points_expiring"
	WeeklyBonus    = "weekly_bonus"
)

// Manager evaluates feature flags defined in a simple key=value list.
// Example: "rank_refresh=on,weekly_bonus=off,new_feed=25%"
type Manager struct {
	flags map[string]string
}

// NewManager creates a feature-flag manager from a comma-separated config string.
func NewManager(raw string) *Manager {
	out := make(map[string]string)

	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		key, value = normalize(key), normalize(value)
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}

	return &Manager{flags: out}
}

// Enabled returns whether a flag is enabled for an account. An empty
// accountID asks about the flag as a whole, which a partial rollout never
// satisfies. Supported values:
// - on/true/1
// - off/false/0
// - N% (deterministic per-account rollout, e.g. 25%)
func (m *Manager) Enabled(name, accountID string) bool {
	if m == nil {
		return false
	}

	value, ok := m.flags[normalize(name)]
	if !ok {
		return false
	}

	switch value {
	case "on", "true", "1":
		return true
	case "off", "false", "0":
		return false
	}

	pctRaw, isPct := strings.CutSuffix(value, "%")
	if !isPct {
		return false
	}
	pct, err := strconv.Atoi(pctRaw)
	if err != nil || pct <= 0 {
		return false
	}
	if pct >= 100 {
		return true
	}
	if accountID == "" {
		return false
	}
	return rolloutBucket(name, accountID) < pct
}

// Names returns the configured flag names in order.
func (m *Manager) Names() []string {
	if m == nil {
		return nil
	}
	names := make([]string, 0, len(m.flags))
	for name := range m.flags {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Raw returns a copy of configured flags.
func (m *Manager) Raw() map[string]string {
	out := make(map[string]string, len(m.Names()))
	for _, name := range m.Names() {
		out[name] = m.flags[name]
	}
	return out
}

// Snapshot returns evaluated flag status for one account.
func (m *Manager) Snapshot(accountID string) map[string]bool {
	out := make(map[string]bool)
	for _, name := range m.Names() {
		out[name] = m.Enabled(name, accountID)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func rolloutBucket(name, accountID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(normalize(name) + ":" + accountID))
	return int(h.Sum32() % 100)
}
