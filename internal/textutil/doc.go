// Package textutil provides text normalisation used when matching metadata
// against learned patterns and custom rules.
//
// Matching keys are case-folded, accent-stripped, and whitespace-collapsed so
// "Science Fiction", "science  fiction", and "Ciéncia" style variants compare
// consistently regardless of the metadata source.
package textutil
