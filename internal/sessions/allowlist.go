package sessions

import (
	"encoding/json"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/titanous/json5"
)

// allowlistFile is the on-disk shape, per §6: `{ "allowlist": [...], "lastUpdated": ISO8601 }`.
type allowlistFile struct {
	Allowlist   []string `json:"allowlist"`
	LastUpdated string   `json:"lastUpdated"`
}

// compiledPattern caches a wildcard pattern alongside its compiled,
// anchored regex, per the design note in §9 ("compile patterns to a
// concrete regex once at load; cache the compiled form with the stored
// pattern").
type compiledPattern struct {
	raw string
	re  *regexp.Regexp
}

// Allowlist is a thread-safe set of wildcard patterns supporting exact
// session-id/user-id matches and `*`/`?` globs, anchored at both ends.
// `*` matches any run of non-":" characters, `?` matches any single
// character — session ids are never interpreted as regex directly.
type Allowlist struct {
	mu       sync.RWMutex
	patterns []compiledPattern
	path     string
	onChange func()

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// NewAllowlist returns an empty, in-memory Allowlist with no backing file.
// Use LoadFile to populate it from disk.
func NewAllowlist() *Allowlist {
	return &Allowlist{}
}

// compilePattern turns a wildcard pattern into an anchored regex. Missing
// the anchors would let "admin*" accidentally match "not-admin-fake"; the
// spec requires both ends anchored.
func compilePattern(pattern string) compiledPattern {
	var b strings.Builder
	b.WriteByte('^')
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString("[^:]*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')
	re, err := regexp.Compile(b.String())
	if err != nil {
		// A pattern that somehow fails to compile matches nothing rather
		// than panicking or being silently dropped.
		re = regexp.MustCompile(`^\x00never-matches\x00$`)
	}
	return compiledPattern{raw: pattern, re: re}
}

// Add inserts pattern (compiling it once) if not already present.
func (a *Allowlist) Add(pattern string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.patterns {
		if p.raw == pattern {
			return
		}
	}
	a.patterns = append(a.patterns, compilePattern(pattern))
	a.fireChangeLocked()
}

// Remove deletes pattern if present.
func (a *Allowlist) Remove(pattern string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, p := range a.patterns {
		if p.raw == pattern {
			a.patterns = append(a.patterns[:i], a.patterns[i+1:]...)
			a.fireChangeLocked()
			return
		}
	}
}

// Matches reports whether candidate matches any stored pattern (exact or
// wildcard).
func (a *Allowlist) Matches(candidate string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, p := range a.patterns {
		if p.re.MatchString(candidate) {
			return true
		}
	}
	return false
}

// Patterns returns a snapshot of the raw patterns currently loaded.
func (a *Allowlist) Patterns() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, len(a.patterns))
	for i, p := range a.patterns {
		out[i] = p.raw
	}
	return out
}

// OnChange registers a callback fired (synchronously, errors swallowed by
// the caller) whenever the pattern set changes, matching the
// SessionManager config's onAllowlistChange hook.
func (a *Allowlist) OnChange(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onChange = fn
}

func (a *Allowlist) fireChangeLocked() {
	if a.onChange != nil {
		a.onChange()
	}
}

// LoadFile reads an allowlist file from path (expanding a leading "~"),
// parsed with the same tolerant github.com/titanous/json5 reader
// internal/config uses for hand-edited files (comments/trailing commas
// allowed; still accepts plain JSON, since JSON is a subset of JSON5). Per
// §6/§9 Open Questions: a missing file yields an empty list (not an
// error); invalid input, or a present-but-non-array "allowlist" key, also
// yields an empty list rather than attempting an in-place upgrade.
func (a *Allowlist) LoadFile(path string) error {
	a.path = expandHome(path)
	data, err := os.ReadFile(a.path)
	if err != nil {
		a.mu.Lock()
		a.patterns = nil
		a.mu.Unlock()
		return nil
	}

	var f allowlistFile
	if err := json5.Unmarshal(data, &f); err != nil {
		a.mu.Lock()
		a.patterns = nil
		a.mu.Unlock()
		return nil
	}

	a.mu.Lock()
	a.patterns = make([]compiledPattern, 0, len(f.Allowlist))
	for _, p := range f.Allowlist {
		a.patterns = append(a.patterns, compilePattern(p))
	}
	a.mu.Unlock()
	return nil
}

// SaveFile writes the current pattern set to a.path using a write-then-
// rename sequence, as recommended (not required) by §6.
func (a *Allowlist) SaveFile() error {
	if a.path == "" {
		return nil
	}
	a.mu.RLock()
	patterns := make([]string, len(a.patterns))
	for i, p := range a.patterns {
		patterns[i] = p.raw
	}
	a.mu.RUnlock()

	f := allowlistFile{Allowlist: patterns, LastUpdated: time.Now().UTC().Format(time.RFC3339)}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp("", "allowlist-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), a.path)
}

// Watch starts an fsnotify watcher on the allowlist file's directory and
// reloads the file whenever it changes, so operators editing the file by
// hand take effect without a restart — the same role
// internal/skills.Watcher plays for skill files in the teacher.
func (a *Allowlist) Watch() error {
	if a.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := dirOf(a.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return err
	}
	a.watcher = w
	a.stopCh = make(chan struct{})

	go func() {
		for {
			select {
			case <-a.stopCh:
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Name == a.path {
					_ = a.LoadFile(a.path)
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

// StopWatch tears down the fsnotify watcher started by Watch.
func (a *Allowlist) StopWatch() {
	if a.stopCh != nil {
		close(a.stopCh)
		a.stopCh = nil
	}
	if a.watcher != nil {
		a.watcher.Close()
		a.watcher = nil
	}
}

func expandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
