// Package language normalizes the original-language values reported by
// metadata providers and written in library rules. Codes, ISO 639-2 forms
// and English names all reduce to ISO 639-1.
package language
