// Package display formats Ticos entities for CLI output.
package display

import (
	"io"
)

// OutputFormat represents the different output formats supported
type OutputFormat string

const (
	JSONFormat  OutputFormat = "json"
	YAMLFormat  OutputFormat = "yaml"
	TableFormat OutputFormat = ""
)

const (
	RebootsKind    = "reboots"
	ReportsKind    = "reports"
	CoredumpsKind  = "coredumps"
	AttributesKind = "attributes"
)

// FormatOptions contains options for formatting output
type FormatOptions struct {
	Kind   string
	Writer io.Writer
}

// OutputFormatter defines the interface for formatting and displaying data
type OutputFormatter interface {
	Format(data any, options FormatOptions) error
}

// NewFormatter creates a new formatter based on the output format
func NewFormatter(format OutputFormat) OutputFormatter {
	switch format {
	case JSONFormat:
		return &JSONFormatter{}
	case YAMLFormat:
		return &YAMLFormatter{}
	default:
		return &TableFormatter{now: timeNow}
	}
}
