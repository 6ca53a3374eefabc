package capture

import "strings"

const DefaultLocale = "en-US"

var locales = map[string]string{
	"en": "en-US",
	"hi": "hi-IN",
	"bn": "bn-IN",
	"te": "te-IN",
	"mr": "mr-IN",
	"ta": "ta-IN",
	"gu": "gu-IN",
	"kn": "kn-IN",
	"ml": "ml-IN",
	"pa": "pa-IN",
	"es": "es-ES",
	"fr": "fr-FR",
	"de": "de-DE",
}

// LocaleFor maps a UI language code to a recognizer locale. Region subtags
// are ignored ("hi-IN" and "hi" both map to "hi-IN"); unknown codes map to en-US.
func LocaleFor(code string) string {
	primary, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(code)), "-")
	if loc, ok := locales[primary]; ok {
		return loc
	}
	return DefaultLocale
}

// Supported reports whether code has its own locale mapping.
func Supported(code string) bool {
	primary, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(code)), "-")
	_, ok := locales[primary]
	return ok
}
