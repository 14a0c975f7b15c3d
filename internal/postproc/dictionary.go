package postproc

import (
	"encoding/json"
	"os"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Built-in corrections for phrases the speech-to-text engine reliably
// mishears on low-bitrate radio audio. A dictionary file extends (and may
// override) these.
var builtinCorrections = map[string]string{
	// chief-complaint aliases
	"cedar":         "seizure",
	"seizures":      "seizure",
	"seizing":       "seizure",
	"over dose":     "overdose",
	"cardiac rest":  "cardiac arrest",
	"short of air":  "difficulty breathing",
	"diff breather": "difficulty breathing",
	"unconches":     "unconscious",
	"unconscience":  "unconscious",
	// unit aliases
	"engines":   "engine",
	"medics":    "medic",
	"lather":    "ladder",
	"recue":     "rescue",
	"battalian": "battalion",
	// acuity letters
	"alfa":    "alpha",
	"brahvo":  "bravo",
	"charley": "charlie",
}

// Dictionary applies whole-word phrase corrections with case preservation.
// The backing file (JSON object of misheard -> canonical) is hot-reloaded
// when it changes on disk.
type Dictionary struct {
	mu      sync.RWMutex
	entries map[string]string
	pattern *regexp.Regexp

	path    string
	watcher *fsnotify.Watcher
	log     zerolog.Logger
}

// NewDictionary builds a dictionary from the built-in corrections plus the
// optional file at path. An empty path disables file loading and watching.
func NewDictionary(path string, log zerolog.Logger) (*Dictionary, error) {
	d := &Dictionary{
		path: path,
		log:  log.With().Str("component", "dictionary").Logger(),
	}
	if err := d.reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Watch starts hot reload. Runs until the watcher is closed via Close.
func (d *Dictionary) Watch() error {
	if d.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(d.path); err != nil {
		w.Close()
		return err
	}
	d.watcher = w

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := d.reload(); err != nil {
					d.log.Warn().Err(err).Msg("dictionary reload failed, keeping previous entries")
					continue
				}
				d.log.Info().Str("path", d.path).Msg("dictionary reloaded")
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				d.log.Warn().Err(err).Msg("dictionary watcher error")
			}
		}
	}()
	return nil
}

func (d *Dictionary) Close() {
	if d.watcher != nil {
		d.watcher.Close()
	}
}

func (d *Dictionary) reload() error {
	entries := make(map[string]string, len(builtinCorrections))
	for k, v := range builtinCorrections {
		entries[strings.ToLower(k)] = v
	}

	if d.path != "" {
		data, err := os.ReadFile(d.path)
		if err == nil {
			var file map[string]string
			if err := json.Unmarshal(data, &file); err != nil {
				return err
			}
			for k, v := range file {
				entries[strings.ToLower(k)] = v
			}
		} else if !os.IsNotExist(err) {
			return err
		}
	}

	// Longest phrases first so "cardiac rest" wins over "rest".
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, regexp.QuoteMeta(k))
	}
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			if len(keys[j]) > len(keys[i]) {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}
	pattern, err := regexp.Compile(`(?i)\b(` + strings.Join(keys, "|") + `)\b`)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.entries = entries
	d.pattern = pattern
	d.mu.Unlock()
	return nil
}

// Apply substitutes every misheard phrase with its canonical form,
// preserving the case shape of the matched text.
func (d *Dictionary) Apply(transcript string) string {
	d.mu.RLock()
	pattern := d.pattern
	entries := d.entries
	d.mu.RUnlock()

	return pattern.ReplaceAllStringFunc(transcript, func(match string) string {
		canonical, ok := entries[strings.ToLower(match)]
		if !ok {
			return match
		}
		return matchCase(match, canonical)
	})
}

// matchCase copies the case shape of src onto repl: all-caps stays all-caps,
// a leading capital stays capitalized, anything else stays lowercase.
func matchCase(src, repl string) string {
	if src == strings.ToUpper(src) && strings.ContainsFunc(src, unicode.IsLetter) {
		return strings.ToUpper(repl)
	}
	r := []rune(src)
	if len(r) > 0 && unicode.IsUpper(r[0]) {
		rr := []rune(repl)
		rr[0] = unicode.ToUpper(rr[0])
		return string(rr)
	}
	return repl
}
