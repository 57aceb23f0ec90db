// Package lang guesses the language of debate pages from the scripts
// their letters are written in.
package lang

import (
	"strings"
	"unicode"
)

// Language codes returned by Detect.
const (
	Unknown   = ""
	English   = "en"
	Hindi     = "hi"
	Bengali   = "bn"
	Tamil     = "ta"
	Telugu    = "te"
	Malayalam = "ml"
	Gujarati  = "gu"
	Punjabi   = "pa"
	Kannada   = "kn"
	Odia      = "or"
	Urdu      = "ur"
)

// DefaultTag is the translation source tag used when the language is
// unknown or has no tag of its own.
const DefaultTag = "hin_Deva"

// tags maps ISO 639-1 codes to IndicTrans2 language tags.
var tags = map[string]string{
	"hi": "hin_Deva",
	"mr": "mar_Deva",
	"bn": "ben_Beng",
	"ta": "tam_Taml",
	"te": "tel_Telu",
	"ml": "mal_Mlym",
	"gu": "guj_Gujr",
	"pa": "pan_Guru",
	"kn": "kan_Knda",
	"or": "ory_Orya",
	"ne": "npi_Deva",
	"as": "asm_Beng",
	"ur": "urd_Arab",
	"en": "eng_Latn",
}

// scripts is checked in order; a script maps to the most common
// language written in it in the chamber records. Devanagari is shared by
// Hindi, Marathi and Nepali and resolves to Hindi.
var scripts = []struct {
	table *unicode.RangeTable
	code  string
}{
	{unicode.Devanagari, Hindi},
	{unicode.Bengali, Bengali},
	{unicode.Tamil, Tamil},
	{unicode.Telugu, Telugu},
	{unicode.Malayalam, Malayalam},
	{unicode.Gujarati, Gujarati},
	{unicode.Gurmukhi, Punjabi},
	{unicode.Kannada, Kannada},
	{unicode.Oriya, Odia},
	{unicode.Arabic, Urdu},
	{unicode.Latin, English},
}

// Detect returns the language whose script holds the most letters in
// text, or Unknown when text has no letters in a known script. Ties go
// to the script listed first, so mixed pages lean towards Indic
// languages over English.
func Detect(text string) string {
	counts := make([]int, len(scripts))
	for _, r := range text {
		if !unicode.IsLetter(r) && !unicode.Is(unicode.Mn, r) && !unicode.Is(unicode.Mc, r) {
			continue
		}
		for i, s := range scripts {
			if unicode.Is(s.table, r) {
				counts[i]++
				break
			}
		}
	}

	best := -1
	for i, n := range counts {
		if n > 0 && (best < 0 || n > counts[best]) {
			best = i
		}
	}
	if best < 0 {
		return Unknown
	}
	return scripts[best].code
}

// Tag returns the IndicTrans2 tag for an ISO 639-1 code such as "mr" or
// "mr-IN", or DefaultTag.
func Tag(code string) string {
	code, _, _ = strings.Cut(strings.ToLower(code), "-")
	if tag, ok := tags[code]; ok {
		return tag
	}
	return DefaultTag
}

// Contains reports whether code is one of codes, ignoring case.
func Contains(codes []string, code string) bool {
	for _, c := range codes {
		if strings.EqualFold(c, code) {
			return true
		}
	}
	return false
}
