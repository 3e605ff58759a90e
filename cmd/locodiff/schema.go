package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/reeceomahoney/locodiff/pkg/config"
)

// SchemaCmd generates JSON Schema for experiment config files, usable by
// editors for completion and validation. Output goes to stdout.
type SchemaCmd struct {
	Compact bool `short:"c" help:"Compact JSON output (no indentation)."`
}

func (c *SchemaCmd) Run(cli *CLI) error {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&config.Config{})
	schema.Title = "locodiff experiment configuration"
	schema.Description = "Schema for locodiff experiment config files"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	encoder := json.NewEncoder(os.Stdout)
	if !c.Compact {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(schema); err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	return nil
}
