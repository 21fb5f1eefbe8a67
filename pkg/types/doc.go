// Package types defines the entity model, field schema, configuration, result
// shapes, and standard errors shared by every quire backend.
//
// Nothing in this package talks to a storage engine. The relational and
// document backends, the statement classifier, and the result normalizer all
// read the same schema declared here, which is what keeps results shape-stable
// regardless of which engine is active.
package types
