// Package tmdb fetches movie and series metadata from TMDB and turns it into
// media.Metadata for classification.
//
// Client.Details issues one request per item with keywords and certifications
// appended. Enricher adds caching and the degrade-on-failure contract the
// decision engine relies on.
package tmdb
