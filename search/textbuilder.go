package search

import (
	"strings"

	"bitbucket.org/mmdatafocus/catalog_backend/models"
	"bitbucket.org/mmdatafocus/catalog_backend/utils"
)

const (
	maxDescriptionLen = 500
	maxSpecsLen       = 300
)

// abbreviationExpansions maps trade shorthand seen in ERP item names to
// full terms, so the embedding model does not have to guess. Keys are
// matched case-insensitively per whitespace token.
var abbreviationExpansions = map[string]string{
	"cdl":  "cordless drill",
	"agr":  "angle grinder",
	"imp":  "impact",
	"drv":  "driver",
	"hmr":  "hammer",
	"rcp":  "reciprocating saw",
	"circ": "circular saw",
	"bat":  "battery",
	"chrg": "charger",
	"sprk": "spark plug",
	"crb":  "carburetor",
	"brk":  "brake",
	"clt":  "clutch",
	"gskt": "gasket",
	"bshg": "bushing",
	"brg":  "bearing",
	"flt":  "filter",
	"fr":   "front",
	"rr":   "rear",
	"lh":   "left hand",
	"rh":   "right hand",
	"pc":   "piece",
	"pcs":  "pieces",
	"w/":   "with",
}

// brandDomains tags brands with their market segment. The same part name
// means different things from a power tool maker and a motorcycle parts
// maker; the tag disambiguates without touching application logic.
var brandDomains = map[string]string{
	"makita":     "power tools",
	"dewalt":     "power tools",
	"bosch":      "power tools",
	"milwaukee":  "power tools",
	"stanley":    "hand tools",
	"total":      "power tools",
	"ingco":      "power tools",
	"honda":      "motorcycle parts",
	"yamaha":     "motorcycle parts",
	"suzuki":     "motorcycle parts",
	"kawasaki":   "motorcycle parts",
	"ngk":        "motorcycle parts",
	"did":        "motorcycle parts",
	"yuasa":      "motorcycle parts",
	"federal":    "motorcycle parts",
	"aspira":     "motorcycle parts",
}

// BuildText flattens a product into the single string that gets embedded.
// Field order is fixed so re-embedding an unchanged product yields the
// same text.
func BuildText(doc *models.ProductSearchDoc) string {
	var parts []string

	if name := expandAbbreviations(doc.Name); name != "" {
		parts = append(parts, name)
	}
	if brand := annotateBrand(doc.BrandName); brand != "" {
		parts = append(parts, brand)
	}
	if category := strings.TrimSpace(doc.CategoryName); category != "" {
		parts = append(parts, category)
	}
	if model := strings.TrimSpace(doc.Model); model != "" {
		parts = append(parts, "model "+model)
	}
	if desc := strings.TrimSpace(doc.Description); desc != "" {
		parts = append(parts, utils.Truncate(desc, maxDescriptionLen))
	}
	if specs := strings.TrimSpace(doc.Specifications); specs != "" {
		parts = append(parts, utils.Truncate(specs, maxSpecsLen))
	}

	attrs := doc.Product.Attributes()
	for _, key := range doc.Product.SortedAttributeKeys() {
		parts = append(parts, key+": "+attrs[key])
	}
	for _, feature := range doc.Product.Features() {
		if f := strings.TrimSpace(feature); f != "" {
			parts = append(parts, f)
		}
	}

	return strings.Join(parts, ". ")
}

// expandAbbreviations replaces known shorthand tokens while leaving
// everything else untouched.
func expandAbbreviations(name string) string {
	fields := strings.Fields(strings.TrimSpace(name))
	if len(fields) == 0 {
		return ""
	}
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		if expansion, ok := abbreviationExpansions[strings.ToLower(field)]; ok {
			out = append(out, expansion)
		} else {
			out = append(out, field)
		}
	}
	return strings.Join(out, " ")
}

// annotateBrand appends the brand's domain tag when the brand belongs to a
// known cluster. Unknown brands pass through untagged.
func annotateBrand(brand string) string {
	brand = strings.TrimSpace(brand)
	if brand == "" {
		return ""
	}
	if domain, ok := brandDomains[strings.ToLower(brand)]; ok {
		return brand + " (" + domain + ")"
	}
	return brand
}
