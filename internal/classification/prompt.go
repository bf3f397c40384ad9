package classification

import (
	"fmt"
	"strings"

	"shelver/internal/language"
	"shelver/internal/media"
)

// BuildPrompt describes an item for the AI tier. Empty fields are omitted.
func BuildPrompt(md media.Metadata) string {
	var b strings.Builder
	line := func(label, value string) {
		if value = strings.TrimSpace(value); value != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, value)
		}
	}
	line("Title", md.DisplayTitle())
	line("Type", md.MediaType)
	line("Genres", strings.Join(md.Genres, ", "))
	keywords := md.Keywords
	if len(keywords) > 15 {
		keywords = keywords[:15]
	}
	line("Keywords", strings.Join(keywords, ", "))
	line("Certification", md.Certification)
	if md.OriginalLanguage != "" {
		line("Original language", language.DisplayName(md.OriginalLanguage))
	}
	if md.Runtime > 0 {
		line("Runtime", fmt.Sprintf("%d minutes", md.Runtime))
	}
	line("Networks", strings.Join(md.Networks, ", "))
	line("Overview", md.Overview)
	if md.IsDegraded() {
		b.WriteString("Note: metadata lookup failed, only the title is known.\n")
	}
	return b.String()
}
