// Package media defines the enriched metadata record shared by the
// enrichment client, the library rules, and the decision engine.
package media
