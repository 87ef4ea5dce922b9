// Package document is the proxy's open-document cache: it tracks every
// document the client has opened, applies incremental or full-sync edits
// to its cached text, and replays cached documents toward a freshly
// spawned backend (spec.md §4.6). Grounded on
// original_source/src/proxy/document.rs and
// original_source/src/proxy/initialization.rs's restore_documents_to_backend.
package document

import (
	"net/url"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/venvmux/venvmux/internal/textedit"
)

// Open is one cached document: its language, version, text, and the
// venv it resolved to at open time (empty if unresolved).
type Open struct {
	URI        string
	LanguageID string
	Version    int
	Text       string
	Venv       string
}

// Change is one element of a didChange notification's contentChanges
// array: a partial (incremental) edit when Range is non-nil, otherwise a
// full-sync replacement.
type Change struct {
	Range   *textedit.Range
	NewText string
}

// Cache holds every document currently open in the client, keyed by URI.
type Cache struct {
	docs map[string]*Open
}

// New returns an empty document cache.
func New() *Cache {
	return &Cache{docs: make(map[string]*Open)}
}

// Open inserts or replaces the cache entry for uri (spec.md §4.6 "Open").
func (c *Cache) Open(uri, languageID string, version int, text, venv string) {
	c.docs[uri] = &Open{URI: uri, LanguageID: languageID, Version: version, Text: text, Venv: venv}
}

// Get returns the cached document for uri, if any.
func (c *Cache) Get(uri string) (*Open, bool) {
	d, ok := c.docs[uri]
	return d, ok
}

// VenvFor returns the resolved venv cached for uri, if the document is
// open and resolved.
func (c *Cache) VenvFor(uri string) (string, bool) {
	d, ok := c.docs[uri]
	if !ok || d.Venv == "" {
		return "", false
	}
	return d.Venv, true
}

// Change applies a sequence of content changes to the cached document for
// uri, in order. An empty changes slice leaves the text unchanged (spec.md
// §8 round-trip law). version, when hasVersion is set, overwrites the
// cached version after all edits apply. Returns false if uri is not open.
func (c *Cache) Change(uri string, changes []Change, version int, hasVersion bool) (bool, error) {
	d, ok := c.docs[uri]
	if !ok {
		return false, nil
	}

	for _, ch := range changes {
		if ch.Range == nil {
			d.Text = textedit.ApplyFull(ch.NewText)
			continue
		}
		next, err := textedit.ApplyIncremental(d.Text, *ch.Range, ch.NewText)
		if err != nil {
			return true, err
		}
		d.Text = next
	}

	if hasVersion {
		d.Version = version
	}
	return true, nil
}

// Close removes uri from the cache and reports the venv it had resolved
// to, if any (spec.md §4.6 "Close": the caller needs the venv before the
// entry disappears, to forward the notification to the right backend).
func (c *Cache) Close(uri string) (venv string, ok bool) {
	d, ok := c.docs[uri]
	if !ok {
		return "", false
	}
	delete(c.docs, uri)
	return d.Venv, true
}

// Len reports how many documents are currently open.
func (c *Cache) Len() int { return len(c.docs) }

// URIsUnderVenv returns every cached document URI whose resolved venv
// equals venv, used to clear diagnostics on eviction or crash (spec.md
// §4.11).
func (c *Cache) URIsUnderVenv(venv string) []string {
	var out []string
	for uri, d := range c.docs {
		if d.Venv == venv {
			out = append(out, uri)
		}
	}
	return out
}

// ForReplay returns every cached document that should be replayed to a
// freshly spawned backend for venv: documents whose resolved venv equals
// venv, or (fallback) whose filesystem path descends from venv's parent
// directory, whatever venv, if any, they resolved to (spec.md §4.6
// "Replay").
func (c *Cache) ForReplay(venv, venvParent string) []*Open {
	var out []*Open
	for _, d := range c.docs {
		if d.Venv == venv {
			out = append(out, d)
			continue
		}
		if venvParent == "" {
			continue
		}
		if path, ok := FilePath(d.URI); ok && isUnder(path, venvParent) {
			out = append(out, d)
		}
	}
	return out
}

// ReplayFunc sends one replayed didOpen notification to a backend; the
// caller supplies it so this package stays free of any particular wire
// transport.
type ReplayFunc func(d *Open) error

// Replay calls send for every document in docs (callers pass ForReplay's
// result).
// A send failure for one document does not stop the others (spec.md §4.6
// "Partial failure is tolerated: log and continue"); all failures are
// aggregated and returned together so the caller can log them.
func Replay(docs []*Open, send ReplayFunc) error {
	var result *multierror.Error
	for _, d := range docs {
		if err := send(d); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// FilePath extracts the filesystem path from a file: URI. Non-file URIs
// (e.g. untitled:) report ok=false.
func FilePath(uri string) (string, bool) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "file" {
		return "", false
	}
	return u.Path, true
}

func isUnder(path, parent string) bool {
	if path == parent {
		return true
	}
	return strings.HasPrefix(path, parent+"/")
}
