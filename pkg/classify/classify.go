// Package classify routes raw document text to a commissioning test type.
// Classification is a pure function over a fixed keyword lexicon; ties break
// in lexicon order (grounding, megger, thermography).
package classify

import (
	"strings"

	"github.com/voltaudit/voltaudit/pkg/models"
)

// lexicons in tie-break priority order.
var lexicons = []struct {
	testType models.TestType
	keywords []string
}{
	{models.TestGrounding, []string{
		"ground resistance",
		"earth resistance",
		"grounding test",
		"fall of potential",
		"aterramento",
		"resistência de aterramento",
	}},
	{models.TestMegger, []string{
		"insulation resistance",
		"ir test",
		"polarization index",
		"megger",
		"megohm",
		"resistência de isolamento",
	}},
	{models.TestThermography, []string{
		"thermal",
		"infrared",
		"thermograph",
		"hotspot",
		"hot spot",
		"emissivity",
		"termografia",
		"temperature",
	}},
}

// Classify maps normalized document text and the document's image count to a
// test type. Image-only documents with no text default to thermography, the
// only image-first flavor.
func Classify(text string, imageCount int) models.TestType {
	normalized := strings.ToLower(text)

	if strings.TrimSpace(normalized) == "" && imageCount > 0 {
		return models.TestThermography
	}

	for _, lexicon := range lexicons {
		for _, keyword := range lexicon.keywords {
			if strings.Contains(normalized, keyword) {
				return lexicon.testType
			}
		}
	}
	return models.TestUnknown
}
