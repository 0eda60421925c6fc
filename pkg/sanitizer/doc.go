// Package sanitizer normalizes caller-supplied identifiers before validation and storage.
//
// All functions are idempotent: applying them twice gives the same result. They never
// fail; input that cannot be cleaned comes back empty or unchanged and is rejected later
// by validation.
//
// Normalization includes:
//   - Identifiers: trim and drop control and zero-width characters so two spellings of one id do not coexist
//   - Dates: trim and drop a trailing time part ("2024-06-01T00:00:00Z" becomes "2024-06-01")
package sanitizer
