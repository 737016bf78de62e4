// Package logging builds the structured zap logger used across recalld.
//
// The logger writes JSON (or console) output to stdout through a redacting
// encoder that scrubs credential-shaped fields and values, with optional
// volume sampling for levels below Error. Components receive the resulting
// *zap.Logger directly; request-scoped correlation fields travel via the
// context helpers in this package.
package logging
