package display

import (
	"fmt"

	"sigs.k8s.io/yaml"
)

type YAMLFormatter struct{}

func (f *YAMLFormatter) Format(data any, options FormatOptions) error {
	marshalled, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshalling %s: %w", options.Kind, err)
	}
	_, err = fmt.Fprint(options.Writer, string(marshalled))
	return err
}
