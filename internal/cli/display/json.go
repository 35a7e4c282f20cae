package display

import (
	"encoding/json"
	"fmt"
)

// JSONFormatter prints indented JSON.
type JSONFormatter struct{}

func (f *JSONFormatter) Format(data any, options FormatOptions) error {
	marshalled, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling %s: %w", options.Kind, err)
	}
	_, err = fmt.Fprintf(options.Writer, "%s\n", marshalled)
	return err
}
