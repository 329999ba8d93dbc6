package selection

import (
	"html/template"
	"strings"

	"github.com/tdewolff/minify/v2"
	mhtml "github.com/tdewolff/minify/v2/html"

	"github.com/casamap/plaquemap/internal/geo"
)

// PopupLabels are the already-translated strings the popup needs.
// Translation itself is the caller's concern.
type PopupLabels struct {
	Untitled    string
	Theme       string
	Period      string
	ViewDetails string
}

const popupTemplate = `<div class="plaque-popup">
	<div class="plaque-popup-title">{{.Title}}</div>
	<div class="plaque-popup-meta">{{.ThemeLabel}}: {{.Theme}}</div>
	<div class="plaque-popup-meta">{{.PeriodLabel}}: {{.Period}}</div>
	<div class="plaque-popup-link"><a href="{{.DetailPath}}">{{.LinkLabel}}</a></div>
</div>`

// PopupBuilder renders the info popup fragment for a plaque. The
// output is minified HTML ready to hand to the map collaborator.
type PopupBuilder struct {
	locale string
	labels PopupLabels
	tmpl   *template.Template
	mini   *minify.M
}

// NewPopupBuilder creates a builder for one locale.
func NewPopupBuilder(locale string, labels PopupLabels) *PopupBuilder {
	m := minify.New()
	m.Add("text/html", &mhtml.Minifier{KeepQuotes: true})

	return &PopupBuilder{
		locale: locale,
		labels: labels,
		tmpl:   template.Must(template.New("popup").Parse(popupTemplate)),
		mini:   m,
	}
}

// Render produces the popup HTML for f: title (or the untitled
// fallback), theme and period (or "-"), and the detail-page link.
func (b *PopupBuilder) Render(f geo.PlaqueFeature) (string, error) {
	data := struct {
		Title       string
		ThemeLabel  string
		Theme       string
		PeriodLabel string
		Period      string
		DetailPath  string
		LinkLabel   string
	}{
		Title:       f.TitleOr(b.labels.Untitled),
		ThemeLabel:  b.labels.Theme,
		Theme:       orDash(f.Theme),
		PeriodLabel: b.labels.Period,
		Period:      orDash(f.PeriodBucket),
		DetailPath:  f.DetailPath(b.locale),
		LinkLabel:   b.labels.ViewDetails,
	}

	var sb strings.Builder
	if err := b.tmpl.Execute(&sb, data); err != nil {
		return "", err
	}

	return b.mini.String("text/html", sb.String())
}

func orDash(v *string) string {
	if v == nil {
		return "-"
	}
	return *v
}
