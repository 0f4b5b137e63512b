package sources

import (
	"context"
	"fmt"
	"os"

	"github.com/roxie-moxie/moxie-buildings-sub000/models"
	"gopkg.in/yaml.v3"
)

// YAML reads a file of the form
//
//	sources:
//	  - name: The Astor
//	    url: https://...
//	    platform: funnel
type YAML struct {
	Path string
}

type yamlFile struct {
	Sources []models.SourceRecord `yaml:"sources"`
}

func (y *YAML) Load(_ context.Context) ([]models.SourceRecord, error) {
	data, err := os.ReadFile(y.Path)
	if err != nil {
		return nil, err
	}
	var f yamlFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", y.Path, err)
	}
	return f.Sources, nil
}
