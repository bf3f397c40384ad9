package language

import "strings"

type language struct {
	code    string   // ISO 639-1, or the provider's code where TMDB deviates
	name    string   // display name
	aliases []string // ISO 639-2 forms and lower-case English names
}

var known = []language{
	{"en", "English", []string{"eng", "english"}},
	{"es", "Spanish", []string{"spa", "spanish"}},
	{"fr", "French", []string{"fra", "fre", "french"}},
	{"de", "German", []string{"deu", "ger", "german"}},
	{"it", "Italian", []string{"ita", "italian"}},
	{"pt", "Portuguese", []string{"por", "portuguese"}},
	{"ja", "Japanese", []string{"jpn", "japanese"}},
	{"ko", "Korean", []string{"kor", "korean"}},
	{"zh", "Chinese", []string{"zho", "chi", "chinese", "mandarin"}},
	{"cn", "Cantonese", []string{"yue", "cantonese"}},
	{"ru", "Russian", []string{"rus", "russian"}},
	{"ar", "Arabic", []string{"ara", "arabic"}},
	{"hi", "Hindi", []string{"hin", "hindi"}},
	{"ta", "Tamil", []string{"tam", "tamil"}},
	{"te", "Telugu", []string{"tel", "telugu"}},
	{"th", "Thai", []string{"tha", "thai"}},
	{"id", "Indonesian", []string{"ind", "indonesian"}},
	{"tr", "Turkish", []string{"tur", "turkish"}},
	{"he", "Hebrew", []string{"heb", "hebrew"}},
	{"nl", "Dutch", []string{"nld", "dut", "dutch"}},
	{"pl", "Polish", []string{"pol", "polish"}},
	{"sv", "Swedish", []string{"swe", "swedish"}},
	{"da", "Danish", []string{"dan", "danish"}},
	{"no", "Norwegian", []string{"nor", "nob", "norwegian"}},
	{"fi", "Finnish", []string{"fin", "finnish"}},
}

// index maps every code and alias to its entry.
var index = func() map[string]*language {
	m := make(map[string]*language, len(known)*4)
	for i := range known {
		l := &known[i]
		m[l.code] = l
		for _, alias := range l.aliases {
			m[alias] = l
		}
	}
	return m
}()

func key(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// ToISO2 reduces a code or English name to its two-letter code. Unknown
// two-letter codes pass through; anything else unknown returns "".
func ToISO2(value string) string {
	k := key(value)
	if l, ok := index[k]; ok {
		return l.code
	}
	if len(k) == 2 {
		return k
	}
	return ""
}

// DisplayName names a language for prompts and CLI output. Unknown codes are
// shown upper-cased; empty input is "Unknown".
func DisplayName(value string) string {
	k := key(value)
	if k == "" {
		return "Unknown"
	}
	if l, ok := index[k]; ok {
		return l.name
	}
	return strings.ToUpper(k)
}
