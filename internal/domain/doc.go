// Package domain holds the request model and error taxonomy of the PDF
// generation service. It has no HTTP or renderer dependencies.
package domain
