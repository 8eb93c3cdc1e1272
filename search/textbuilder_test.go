package search

import (
	"encoding/json"
	"strings"
	"testing"

	"bitbucket.org/mmdatafocus/catalog_backend/models"
)

func docWith(p models.Product, category, brand string) *models.ProductSearchDoc {
	return &models.ProductSearchDoc{Product: p, CategoryName: category, BrandName: brand}
}

func TestBuildText_FixedFieldOrder(t *testing.T) {
	attrs, _ := json.Marshal(map[string]string{"voltage": "18V", "chuck": "13mm"})
	features, _ := json.Marshal([]string{"brushless motor", "LED light"})
	doc := docWith(models.Product{
		Name:           "Cordless Drill",
		Model:          "XR-18",
		Description:    "Compact drill for general work",
		Specifications: "18V, 2.0Ah",
		AttributesJSON: attrs,
		FeaturesJSON:   features,
	}, "Power Tools", "DeWalt")

	text := BuildText(doc)
	expected := "Cordless Drill. DeWalt (power tools). Power Tools. model XR-18. " +
		"Compact drill for general work. 18V, 2.0Ah. chuck: 13mm. voltage: 18V. " +
		"brushless motor. LED light"
	if text != expected {
		t.Fatalf("BuildText mismatch:\n got: %s\nwant: %s", text, expected)
	}
}

func TestBuildText_DeterministicAcrossCalls(t *testing.T) {
	attrs, _ := json.Marshal(map[string]string{"b": "2", "a": "1", "c": "3"})
	doc := docWith(models.Product{Name: "Widget", AttributesJSON: attrs}, "", "")

	first := BuildText(doc)
	for i := 0; i < 10; i++ {
		if got := BuildText(doc); got != first {
			t.Fatalf("BuildText not deterministic: %q vs %q", got, first)
		}
	}
	if !strings.Contains(first, "a: 1. b: 2. c: 3") {
		t.Fatalf("attributes not in sorted key order: %s", first)
	}
}

func TestBuildText_ExpandsAbbreviations(t *testing.T) {
	doc := docWith(models.Product{Name: "CDL 18V w/ BAT"}, "", "")
	text := BuildText(doc)
	if !strings.HasPrefix(text, "cordless drill 18V with battery") {
		t.Fatalf("abbreviations not expanded: %s", text)
	}
}

func TestBuildText_BrandDomainDisambiguation(t *testing.T) {
	powerTool := docWith(models.Product{Name: "Chain"}, "", "Makita")
	bikePart := docWith(models.Product{Name: "Chain"}, "", "DID")

	toolText := BuildText(powerTool)
	bikeText := BuildText(bikePart)
	if !strings.Contains(toolText, "Makita (power tools)") {
		t.Fatalf("power tool brand not annotated: %s", toolText)
	}
	if !strings.Contains(bikeText, "DID (motorcycle parts)") {
		t.Fatalf("motorcycle brand not annotated: %s", bikeText)
	}
	if toolText == bikeText {
		t.Fatal("identical part names from different domains must embed differently")
	}
}

func TestBuildText_UnknownBrandPassesThrough(t *testing.T) {
	doc := docWith(models.Product{Name: "Thing"}, "", "NoNameBrand")
	if text := BuildText(doc); !strings.Contains(text, "NoNameBrand") || strings.Contains(text, "(") {
		t.Fatalf("unknown brand should pass through untagged: %s", text)
	}
}

func TestBuildText_TruncatesLongFields(t *testing.T) {
	doc := docWith(models.Product{
		Name:           "Item",
		Description:    strings.Repeat("d", 1000),
		Specifications: strings.Repeat("s", 1000),
	}, "", "")
	text := BuildText(doc)
	if strings.Count(text, "d") > maxDescriptionLen {
		t.Fatalf("description not truncated to %d", maxDescriptionLen)
	}
	if strings.Count(text, "s") > maxSpecsLen {
		t.Fatalf("specifications not truncated to %d", maxSpecsLen)
	}
}

func TestBuildText_EmptyProduct(t *testing.T) {
	if text := BuildText(docWith(models.Product{}, "", "")); text != "" {
		t.Fatalf("empty product produced text: %q", text)
	}
}

func TestExpandAbbreviations_CaseInsensitive(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"SPRK Plug", "spark plug Plug"},
		{"Brk Pad FR", "brake Pad front"},
		{"plain name", "plain name"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := expandAbbreviations(tc.in); got != tc.want {
			t.Fatalf("expandAbbreviations(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
