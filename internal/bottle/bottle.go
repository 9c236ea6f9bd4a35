// Package bottle owns persisted bottle records. Each bottle lives in its
// own directory under the bottle root: a bottle.json record next to a
// prefix/ directory holding the guest filesystem.
package bottle

import (
	"time"
)

// WineRuntime is the runtime snapshot embedded in a bottle record at
// creation time. It is a copy, not a reference: catalog changes after
// creation never alter an existing bottle.
type WineRuntime struct {
	Label      string `json:"label"`
	Wine64Path string `json:"wine64_path"`
	Version    string `json:"version"`
	Channel    string `json:"channel,omitempty"`
}

// EnvVar is one environment entry. Entries keep their insertion order for
// display; names are case-sensitive and unique within a bottle.
type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Bottle is one isolated Wine environment.
type Bottle struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	CreatedAt   time.Time   `json:"created_at"`
	WineRuntime WineRuntime `json:"wine_runtime"`
	Environment []EnvVar    `json:"environment"`
}

// EnvValue looks up an environment entry by name.
func (b Bottle) EnvValue(name string) (string, bool) {
	for _, entry := range b.Environment {
		if entry.Name == name {
			return entry.Value, true
		}
	}
	return "", false
}

// MergeEnv overwrites the value in place when the name already exists and
// appends new names at the end, preserving display order. The input slice
// is not modified.
func MergeEnv(env []EnvVar, entries []EnvVar) []EnvVar {
	merged := make([]EnvVar, len(env))
	copy(merged, env)

	for _, entry := range entries {
		replaced := false
		for i := range merged {
			if merged[i].Name == entry.Name {
				merged[i].Value = entry.Value
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, entry)
		}
	}
	return merged
}

// EnvStrings renders entries in the KEY=VALUE form accepted by os/exec.
func EnvStrings(env []EnvVar) []string {
	out := make([]string, 0, len(env))
	for _, entry := range env {
		out = append(out, entry.Name+"="+entry.Value)
	}
	return out
}
