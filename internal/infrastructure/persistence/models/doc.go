// Package models contains the gorm persistence models of pipeline
// definitions. They are kept apart from the domain entities so the domain
// layer stays free of ORM tags; each model converts to and from its entity.
//
// List-valued definition fields (headers, params, extraction paths,
// destination columns) are stored as JSON columns.
package models
