package ui

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"sales-insight/internal/models"
)

func TestSnapshotPanel_Default(t *testing.T) {
	var b strings.Builder
	if err := SnapshotPanel(models.DefaultSnapshot("")).Render(context.Background(), &b); err != nil {
		t.Fatal(err)
	}
	html := b.String()
	if !strings.Contains(html, "No analysis has been published yet.") {
		t.Error("default panel should say nothing is published")
	}
	if strings.Contains(html, "Top category") || strings.Contains(html, "Summary") {
		t.Error("default panel should not show a top category or summary")
	}
}

func TestSnapshotPanel_Escapes(t *testing.T) {
	cat := `<script>alert(1)</script>`
	snap := models.DefaultSnapshot("r")
	snap.LastUpdated = time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	snap.CategoryBreakdown = models.CategoryBreakdown{
		Data:               []models.CategoryRow{{Category: cat, SaleCount: 1, Revenue: decimal.NewFromInt(5)}},
		TopCategory:        &cat,
		TopCategoryRevenue: decimal.NewFromInt(5),
	}
	snap.HourlyTrend = models.HourlyTrend{
		Data:   []models.HourlyRow{{Hour: 7, SaleCount: 1, Revenue: decimal.NewFromInt(5)}},
		Series: []decimal.Decimal{decimal.NewFromInt(5)},
	}
	snap.TopProducts = []models.ProductRollup{
		{ProductID: "P1", ProductName: `"Lamp" <img src=x onerror=alert(1)>`, SaleCount: 1, UnitsSold: 2, Revenue: decimal.NewFromInt(5)},
	}
	snap.Narrative = "Fine & dandy <b>today</b>"

	var b strings.Builder
	if err := SnapshotPanel(snap).Render(context.Background(), &b); err != nil {
		t.Fatal(err)
	}
	html := b.String()
	for _, raw := range []string{"<script>", "<img", "<b>"} {
		if strings.Contains(html, raw) {
			t.Errorf("panel contains unescaped %q", raw)
		}
	}
	for _, want := range []string{
		"07:00",
		"$5.00",
		"Top category <strong>&lt;script&gt;",
		"&lt;img src=x onerror=alert(1)&gt;",
		"Fine &amp; dandy &lt;b&gt;today&lt;/b&gt;",
		"Sat, 02 Mar 2024",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("panel missing %q", want)
		}
	}
}

func TestDashboard(t *testing.T) {
	var b strings.Builder
	if err := Dashboard(models.DefaultSnapshot("")).Render(context.Background(), &b); err != nil {
		t.Fatal(err)
	}
	html := b.String()
	if !strings.HasPrefix(html, "<!DOCTYPE html>") || !strings.Contains(html, `id="snapshot-panel"`) {
		t.Errorf("unexpected page:\n%s", html)
	}
}
