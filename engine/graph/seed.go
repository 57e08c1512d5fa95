package graph

import (
	"context"
	"strings"

	"github.com/fundscout/fundscout/engine/domain"
)

// programmeKeywords maps lowercase keywords found in titles/content to
// programme tags. Used for CLASSIFYING ingested documents — only the
// programmes in SeedProgrammes exist as nodes up front.
var programmeKeywords = map[string]string{
	"horizon europe":      domain.ProgHorizonEurope,
	"horizon":             domain.ProgHorizonEurope,
	"research and innov":  domain.ProgHorizonEurope,
	"eic accelerator":     domain.ProgHorizonEurope,
	"marie curie":         domain.ProgHorizonEurope,
	"digital europe":      domain.ProgDigitalEurope,
	"digitalisation":      domain.ProgDigitalEurope,
	"cybersecurity":       domain.ProgDigitalEurope,
	"artificial intellig": domain.ProgDigitalEurope,
	"eu4agri":             domain.ProgEU4Agri,
	"agriculture":         domain.ProgEU4Agri,
	"rural development":   domain.ProgEU4Agri,
	"agri-food":           domain.ProgEU4Agri,
	"ipa":                 domain.ProgIPA,
	"pre-accession":       domain.ProgIPA,
	"cross-border":        domain.ProgIPA,
	"western balkans":     domain.ProgIPA,
	"erasmus":             domain.ProgErasmus,
	"mobility":            domain.ProgErasmus,
	"education exchange":  domain.ProgErasmus,
	"life programme":      domain.ProgLIFE,
	"environment":         domain.ProgLIFE,
	"climate action":      domain.ProgLIFE,
	"biodiversity":        domain.ProgLIFE,
	"connecting europe":   domain.ProgCEF,
	"transport infrastr":  domain.ProgCEF,
	"energy infrastr":     domain.ProgCEF,
	"ministry":            domain.ProgNational,
	"national fund":       domain.ProgNational,
}

// SeedProgrammes is the bootstrap set of programme nodes.
var SeedProgrammes = []Programme{
	{Tag: domain.ProgHorizonEurope, Name: "Horizon Europe", Operator: "EU", Focus: "research and innovation, deep tech, SME instrument"},
	{Tag: domain.ProgDigitalEurope, Name: "Digital Europe Programme", Operator: "EU", Focus: "digitalisation, AI, cybersecurity, digital skills"},
	{Tag: domain.ProgEU4Agri, Name: "EU4Agri", Operator: "EU", Focus: "agriculture, agri-food processing, rural development"},
	{Tag: domain.ProgIPA, Name: "Instrument for Pre-Accession Assistance", Operator: "EU", Focus: "pre-accession reform, cross-border cooperation, Western Balkans"},
	{Tag: domain.ProgErasmus, Name: "Erasmus+", Operator: "EU", Focus: "education, training, youth mobility"},
	{Tag: domain.ProgLIFE, Name: "LIFE Programme", Operator: "EU", Focus: "environment, climate action, circular economy"},
	{Tag: domain.ProgCEF, Name: "Connecting Europe Facility", Operator: "EU", Focus: "transport, energy and digital infrastructure"},
	{Tag: domain.ProgNational, Name: "National and entity funds", Operator: "national", Focus: "domestic grant schemes and co-financing"},
}

// seedRelations links programmes that commonly co-fund or complement
// each other.
var seedRelations = []Relation{
	{From: domain.ProgHorizonEurope, To: domain.ProgDigitalEurope, Type: "complements"},
	{From: domain.ProgIPA, To: domain.ProgNational, Type: "co_funds"},
	{From: domain.ProgEU4Agri, To: domain.ProgIPA, Type: "co_funds"},
	{From: domain.ProgLIFE, To: domain.ProgHorizonEurope, Type: "complements"},
	{From: domain.ProgCEF, To: domain.ProgDigitalEurope, Type: "complements"},
}

// Seed writes the bootstrap programmes and relations. Idempotent.
func (g *GraphStore) Seed(ctx context.Context) error {
	return g.SaveBatch(ctx, SeedProgrammes, seedRelations)
}

// ClassifyProgramme inspects a document title and content and returns the
// best-matching programme tag, or empty when nothing matches. Title
// matches win over content matches.
func ClassifyProgramme(title, content string) string {
	lowerTitle := strings.ToLower(title)
	for kw, tag := range programmeKeywords {
		if strings.Contains(lowerTitle, kw) {
			return tag
		}
	}
	lowerContent := strings.ToLower(content)
	for kw, tag := range programmeKeywords {
		if strings.Contains(lowerContent, kw) {
			return tag
		}
	}
	return ""
}
