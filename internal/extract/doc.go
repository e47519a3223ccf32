// Package extract builds extraction prompts, paces calls to the extraction
// service and decodes its JSON answers into Program values.
package extract
