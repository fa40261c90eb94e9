// Package planner models deploy configuration documents and computes which CDN
// paths must be invalidated when a new configuration replaces an old one.
package planner

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/edgepub/edgepub/publish"
)

// Alias kinds recognised in a configuration document
const (
	OriginAlias     = "origin_alias"
	ReleaseverAlias = "releasever_alias"
	RHUIAlias       = "rhui_alias"
)

// AliasKinds lists the alias lists of a document in a stable order
var AliasKinds = []string{OriginAlias, ReleaseverAlias, RHUIAlias}

// RecordKey is the KV key under which config snapshots are versioned
const RecordKey = "edge-config"

const schemaURL = "https://edgepub.dev/schema/deploy-config.json"

//go:embed schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

// Alias maps a source path prefix onto a destination prefix
type Alias struct {
	Src          string   `json:"src"`
	Dest         string   `json:"dest"`
	ExcludePaths []string `json:"exclude_paths,omitempty"`
}

// ListingEntry describes a synthesized directory listing
type ListingEntry struct {
	Var    string   `json:"var"`
	Values []string `json:"values"`
}

// Config is the typed view over a deploy configuration document. Raw keeps the
// document exactly as submitted.
type Config struct {
	Listing         map[string]ListingEntry `json:"listing,omitempty"`
	OriginAlias     []Alias                 `json:"origin_alias,omitempty"`
	ReleaseverAlias []Alias                 `json:"releasever_alias,omitempty"`
	RHUIAlias       []Alias                 `json:"rhui_alias,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// ParseConfig decodes the typed view of raw. Unknown keys are kept in Raw only.
func ParseConfig(raw []byte) (*Config, error) {
	c := &Config{}
	if err := json.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("failed to parse config document: %w", err)
	}
	c.Raw = append(json.RawMessage(nil), raw...)
	return c, nil
}

// Aliases returns the alias list of the given kind
func (c *Config) Aliases(kind string) []Alias {
	if c == nil {
		return nil
	}
	switch kind {
	case OriginAlias:
		return c.OriginAlias
	case ReleaseverAlias:
		return c.ReleaseverAlias
	case RHUIAlias:
		return c.RHUIAlias
	}
	return nil
}

// AllAliases returns every alias of the document, origin aliases first
func (c *Config) AllAliases() []Alias {
	var out []Alias
	for _, kind := range AliasKinds {
		out = append(out, c.Aliases(kind)...)
	}
	return out
}

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("failed to load config schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("failed to add config schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// ValidateDocument checks raw against the embedded configuration schema. Schema
// violations are reported as a *publish.ValidationError.
func ValidateDocument(raw []byte) error {
	sch, err := compiledSchema()
	if err != nil {
		return err
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return publish.Invalidf("Invalid config document: %v", err)
	}

	err = sch.Validate(inst)
	if err == nil {
		return nil
	}

	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return err
	}

	var messages []string
	for _, unit := range verr.BasicOutput().Errors {
		if unit.Error == nil {
			continue
		}
		loc := unit.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		messages = append(messages, fmt.Sprintf("%s: %s", loc, unit.Error.String()))
	}
	if len(messages) == 0 {
		messages = append(messages, verr.Error())
	}
	return &publish.ValidationError{Messages: messages}
}
