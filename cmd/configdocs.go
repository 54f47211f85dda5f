// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cmd

import (
	"flag"
	"fmt"
	"os"

	"grimm.is/procwall/internal/config"
	"grimm.is/procwall/internal/configdoc"
	"grimm.is/procwall/internal/errors"
)

// RunConfigDocs renders the configuration reference from the annotated
// config structs.
func RunConfigDocs(args []string) error {
	flags := flag.NewFlagSet("config-docs", flag.ExitOnError)
	format := flags.String("format", "markdown", "Output format: markdown, jsonschema")
	output := flags.String("output", "", "Output file (default stdout)")
	flags.Parse(args)

	p := configdoc.NewParser()
	if err := p.AddSource("config.go", config.Source); err != nil {
		return err
	}
	schema, err := p.Schema("Config", "procwall configuration")
	if err != nil {
		return err
	}

	var out []byte
	switch *format {
	case "markdown", "md":
		out = []byte(configdoc.Markdown(schema))
	case "jsonschema", "json":
		if out, err = configdoc.MarshalJSONSchema(schema); err != nil {
			return errors.Wrap(err, errors.KindInternal, "failed to encode schema")
		}
		out = append(out, '\n')
	default:
		return errors.Attr(errors.New(errors.KindValidation, "unknown format"), "format", *format)
	}

	if *output == "" {
		_, err = Stdout.Write(out)
		return err
	}
	if err := os.WriteFile(*output, out, 0o644); err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to write output")
	}
	fmt.Fprintf(Stderr, "wrote %s\n", *output)
	return nil
}
