package domain

import "strings"

// Programme tags used in chunk metadata and programme-graph nodes.
const (
	ProgHorizonEurope = "horizon-europe"
	ProgDigitalEurope = "digital-europe"
	ProgEU4Agri       = "eu4agri"
	ProgIPA           = "ipa-iii"
	ProgErasmus       = "erasmus-plus"
	ProgLIFE          = "life"
	ProgCEF           = "cef"
	ProgNational      = "national"
)

// ValidProgrammes is the set of recognised funding programme tags.
var ValidProgrammes = map[string]bool{
	ProgHorizonEurope: true, ProgDigitalEurope: true, ProgEU4Agri: true,
	ProgIPA: true, ProgErasmus: true, ProgLIFE: true, ProgCEF: true,
	ProgNational: true,
}

// validProgramme accepts known tags plus sub-tagged variants such as
// "horizon-europe:hop-on" or "national:fbih".
func validProgramme(tag string) bool {
	if ValidProgrammes[tag] {
		return true
	}
	for base := range ValidProgrammes {
		if strings.HasPrefix(tag, base+":") {
			return true
		}
	}
	return false
}
