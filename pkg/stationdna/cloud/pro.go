package cloud

import "strings"

// DefaultPRO is used when a territory has no known rights society.
const DefaultPRO = "UNASSIGNED"

// territoryPRO maps ISO 3166-1 alpha-2 territories to their performing
// rights organisation.
var territoryPRO = map[string]string{
	"AU": "APRA",
	"CA": "SOCAN",
	"DE": "GEMA",
	"ES": "SGAE",
	"FR": "SACEM",
	"GB": "PRS",
	"GH": "GHAMRO",
	"IT": "SIAE",
	"JP": "JASRAC",
	"KE": "MCSK",
	"NG": "COSON",
	"NL": "BUMA",
	"SE": "STIM",
	"TZ": "COSOTA",
	"UG": "UPRS",
	"US": "ASCAP",
	"ZA": "SAMRO",
}

// PROTable resolves a territory to a PRO. It always returns a non-empty value.
type PROTable struct {
	overrides map[string]string
	fallback  string
}

// NewPROTable builds a table from the built-in mapping plus overrides.
// An empty fallback means DefaultPRO.
func NewPROTable(overrides map[string]string, fallback string) *PROTable {
	t := &PROTable{overrides: make(map[string]string, len(overrides)), fallback: fallback}
	for k, v := range overrides {
		if v = strings.TrimSpace(v); v != "" {
			t.overrides[strings.ToUpper(strings.TrimSpace(k))] = v
		}
	}
	if strings.TrimSpace(t.fallback) == "" {
		t.fallback = DefaultPRO
	}
	return t
}

func (t *PROTable) Lookup(territory string) string {
	key := strings.ToUpper(strings.TrimSpace(territory))
	if pro, ok := t.overrides[key]; ok {
		return pro
	}
	if pro, ok := territoryPRO[key]; ok {
		return pro
	}
	return t.fallback
}
