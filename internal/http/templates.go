package http

import (
	"fmt"
	"html/template"
	"io/fs"
	"path"
	"strings"

	"finanzas/internal/core"

	"github.com/shopspring/decimal"
)

const layoutTemplate = "templates/layout.html"

var templateFuncs = template.FuncMap{
	"money": func(d decimal.Decimal) string { return core.FormatMoney(d) },
	"pct":   func(d decimal.Decimal) string { return d.StringFixed(1) + "%" },
	"date": func(d core.Date) string {
		if d.IsEmpty() {
			return "-"
		}
		return d.String()
	},
	"datetime": func(t interface{ Format(string) string }) string {
		return t.Format("2006-01-02 15:04")
	},
	"isNeg": func(d decimal.Decimal) bool { return d.IsNegative() },
	"add":   func(a, b int) int { return a + b },
}

// parseTemplates pairs the layout with every page so each page can define
// its own "content" block.
func parseTemplates(fsys fs.FS) (map[string]*template.Template, error) {
	pages, err := fs.Glob(fsys, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	out := make(map[string]*template.Template, len(pages))
	for _, page := range pages {
		if page == layoutTemplate {
			continue
		}
		name := strings.TrimSuffix(path.Base(page), ".html")
		t, err := template.New("layout.html").Funcs(templateFuncs).ParseFS(fsys, layoutTemplate, page)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		out[name] = t
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no page templates found")
	}
	return out, nil
}
