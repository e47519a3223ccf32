// Package catalog defines the record model, status lifecycle, error taxonomy
// and collaborator interfaces shared by the enrichment subsystems.
package catalog
