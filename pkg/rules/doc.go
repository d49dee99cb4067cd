// Package rules implements the declarative tag-matching rule system:
// loading rule files from the rules directory, aggregating a resource's
// patient, study and series tags into an evaluation context, and
// deciding which rules match.
package rules
