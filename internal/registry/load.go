package registry

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/pavelanni/remedial/internal/model"
)

//go:embed registry.schema.json
var schemaJSON []byte

const schemaURL = "registry.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error

	validate = validator.New(validator.WithRequiredStructEnabled())
)

// File is the on-disk registry document.
type File struct {
	Questions []FileQuestion `json:"questions" validate:"required,min=1,dive"`
}

// FileQuestion is one question entry of a registry document.
type FileQuestion struct {
	ID        string            `json:"id" validate:"required,max=64"`
	Topic     string            `json:"topic" validate:"required"`
	MaxMarks  *float64          `json:"max_marks" validate:"required,gte=0"`
	Materials map[string]string `json:"materials" validate:"required,dive,keys,oneof=low mid_low mid_high high,endkeys,required,uri"`
}

// Format is the serialization of a registry document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the document format from a file extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// LoadFile reads, validates and builds a Registry from path.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry %s: %w", path, err)
	}
	reg, err := Parse(data, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("registry %s: %w", path, err)
	}
	slog.Debug("loaded registry", "path", path, "questions", reg.Len())
	return reg, nil
}

// Parse validates a registry document against the schema and the struct rules,
// then builds the Registry.
func Parse(data []byte, format Format) (*Registry, error) {
	if format == FormatYAML {
		converted, err := yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		data = converted
	}

	if err := validateSchema(data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrInvalid, err)
	}
	if err := validate.Struct(f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	specs, err := f.Specs()
	if err != nil {
		return nil, err
	}
	return New(specs)
}

// Specs converts the document into question specs in declaration order.
func (f File) Specs() ([]model.QuestionSpec, error) {
	specs := make([]model.QuestionSpec, 0, len(f.Questions))
	for _, fq := range f.Questions {
		spec := model.QuestionSpec{ID: fq.ID, Topic: fq.Topic}
		if fq.MaxMarks != nil {
			spec.MaxMarks = *fq.MaxMarks
		}
		for key, uri := range fq.Materials {
			b, err := model.ParseBucket(key)
			if err != nil {
				return nil, fmt.Errorf("%w: question %q: %w", ErrInvalid, fq.ID, err)
			}
			spec.Materials[b] = uri
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

func validateSchema(data []byte) error {
	sch, err := compiledSchema()
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	var verr *jsonschema.ValidationError
	if err := sch.Validate(doc); err != nil {
		if errors.As(err, &verr) {
			return fmt.Errorf("schema: %s", verr.Error())
		}
		return err
	}
	return nil
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("convert yaml: %w", err)
	}
	return out, nil
}
