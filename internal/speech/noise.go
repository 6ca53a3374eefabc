package speech

import "strings"

// noisePatterns are common ASR hallucinations produced from background noise.
var noisePatterns = map[string]bool{
	"crunching": true, "static": true, "silence": true, "noise": true,
	"inaudible": true, "unintelligible": true, "background noise": true,
	"music": true, "typing": true, "breathing": true, "sigh": true,
	"cough": true, "sneeze": true, "laughter": true, "applause": true,
	"um": true, "uh": true, "hmm": true, "ah": true, "mhm": true,
	"thank you for watching": true,
}

// wrapped annotations like *static*, [inaudible], (music)
var annotationPairs = [][2]string{{"*", "*"}, {"[", "]"}, {"(", ")"}}

// IsNoiseTranscript reports whether text is likely a transcription of noise
// rather than speech.
func IsNoiseTranscript(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return true
	}
	for _, p := range annotationPairs {
		if strings.HasPrefix(t, p[0]) && strings.HasSuffix(t, p[1]) {
			return true
		}
	}
	return noisePatterns[strings.Trim(strings.ToLower(t), ".!? ")]
}
