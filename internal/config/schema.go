package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var schemaJSON []byte

func validateSchema(data []byte) error {
	if !json.Valid(data) {
		return errors.New("config is not valid json")
	}
	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schemaJSON), gojsonschema.NewBytesLoader(data))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}
	if len(result.Errors()) == 0 {
		return errors.New("config schema validation failed")
	}
	return fmt.Errorf("config schema validation failed: %s", result.Errors()[0].String())
}
