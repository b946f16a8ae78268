package http

import (
	"bytes"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

// Shared templates start with an underscore; every other file is a page
// that defines "content" and is rendered through the "layout" template.
const sharedGlob = "templates/_*.html"

type templateSet struct {
	shared *template.Template
	pages  map[string]*template.Template
}

func loadTemplates(fsys fs.FS) (*templateSet, error) {
	shared, err := template.New("shared").Funcs(templateFuncs).ParseFS(fsys, sharedGlob)
	if err != nil {
		return nil, fmt.Errorf("parse shared templates: %w", err)
	}

	files, err := fs.Glob(fsys, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("list page templates: %w", err)
	}

	set := &templateSet{shared: shared, pages: make(map[string]*template.Template)}
	for _, file := range files {
		name := path.Base(file)
		if strings.HasPrefix(name, "_") {
			continue
		}
		base, err := shared.Clone()
		if err != nil {
			return nil, fmt.Errorf("clone shared templates for %s: %w", name, err)
		}
		page, err := base.ParseFS(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("parse page %s: %w", name, err)
		}
		set.pages[strings.TrimSuffix(name, ".html")] = page
	}
	return set, nil
}

// page renders the named page into a buffer so a template error never
// leaves a half-written response.
func (t *templateSet) page(name string, data any) ([]byte, error) {
	tmpl, ok := t.pages[name]
	if !ok {
		return nil, fmt.Errorf("unknown page %q", name)
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		return nil, fmt.Errorf("render page %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

func (t *templateSet) partial(name string, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.shared.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("render partial %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

func writeHTML(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
