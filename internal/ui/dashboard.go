// Package ui renders the dashboard page and the live snapshot panel.
package ui

import (
	"context"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/a-h/templ"
	"github.com/shopspring/decimal"

	"sales-insight/internal/models"
)

const PanelID = "snapshot-panel"

// Dashboard is the full page. The panel is patched in place by the
// /sse/snapshot stream after every published run.
func Dashboard(snap models.Snapshot) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Sales Insight Dashboard</title>
<script type="module" src="https://cdn.jsdelivr.net/gh/starfederation/datastar@1.0.0/bundles/datastar.js"></script>
<style>
body{font-family:system-ui,sans-serif;margin:2rem;color:#1f2933}
table{border-collapse:collapse;margin-bottom:1.5rem}
th,td{padding:.35rem .8rem;border-bottom:1px solid #e4e7eb;text-align:left}
.stat{display:inline-block;margin-right:2rem}
.narrative{white-space:pre-wrap;background:#f5f7fa;padding:1rem;border-radius:6px}
</style>
</head>
<body data-signals="{snapshot: {}}" data-init="@get('/sse/snapshot')">
<h1>Sales Insight Dashboard</h1>
<p>Rolling e-commerce sales analysis with an automated written summary.</p>
`); err != nil {
			return err
		}
		if err := SnapshotPanel(snap).Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, "\n</body>\n</html>\n")
		return err
	})
}

var panelTemplate = template.Must(template.New("snapshotPanel").Funcs(template.FuncMap{
	"money": func(d decimal.Decimal) string { return d.StringFixed(2) },
	"hour":  func(h int) string { return fmt.Sprintf("%02d:00", h) },
}).Parse(`<div id="{{.PanelID}}">
{{if .Published}}<p class="updated">Last updated {{.Updated}}</p>{{else}}<p class="updated">No analysis has been published yet.</p>{{end}}
<div class="stat"><strong>{{.Snap.WindowStats.RecordCount}}</strong> sales</div>
<div class="stat"><strong>${{money .Snap.WindowStats.TotalRevenue}}</strong> revenue</div>
{{with .TopCategory}}<div class="stat">Top category <strong>{{.}}</strong></div>{{end}}
<h2>Categories</h2>
<table><thead><tr><th>Category</th><th>Sales</th><th>Revenue</th></tr></thead><tbody>
{{range .Snap.CategoryBreakdown.Data}}<tr><td>{{.Category}}</td><td>{{.SaleCount}}</td><td>${{money .Revenue}}</td></tr>
{{end}}</tbody></table>
<h2>Hourly trend</h2>
{{with .Snap.HourlyTrend}}{{if .Data}}<p>Peak hour {{hour .PeakHour}}, slowest hour {{hour .SlowestHour}}</p>{{end}}
<table><thead><tr><th>Hour</th><th>Sales</th><th>Revenue</th></tr></thead><tbody>
{{range .Data}}<tr><td>{{hour .Hour}}</td><td>{{.SaleCount}}</td><td>${{money .Revenue}}</td></tr>
{{end}}</tbody></table>{{end}}
{{if .Snap.TopProducts}}<h2>Top products</h2>
<table><thead><tr><th>Product</th><th>Units</th><th>Revenue</th></tr></thead><tbody>
{{range .Snap.TopProducts}}<tr><td>{{.ProductName}}</td><td>{{.UnitsSold}}</td><td>${{money .Revenue}}</td></tr>
{{end}}</tbody></table>{{end}}
{{with .Snap.Narrative}}<h2>Summary</h2><div class="narrative">{{.}}</div>{{end}}
</div>`))

type panelData struct {
	PanelID     string
	Published   bool
	Updated     string
	TopCategory string
	Snap        models.Snapshot
}

// SnapshotPanel renders the statistics and narrative of one snapshot.
func SnapshotPanel(snap models.Snapshot) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		data := panelData{
			PanelID:   PanelID,
			Published: snap.LastUpdated.Unix() > 0,
			Updated:   snap.LastUpdated.UTC().Format(time.RFC1123),
			Snap:      snap,
		}
		if top := snap.CategoryBreakdown.TopCategory; top != nil {
			data.TopCategory = *top
		}
		return panelTemplate.Execute(w, data)
	})
}
