package descriptor

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/core-tools/hsu-deploy/pkg/errors"

	"github.com/robertkrimen/otto"
	"gopkg.in/yaml.v3"
)

// Format identifies how a descriptor source is encoded.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatJS   Format = "js"
)

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".js", ".cjs":
		return FormatJS, nil
	default:
		return "", errors.NewConfigError("unsupported descriptor file extension", nil).
			WithContext("path", path).
			WithContext("supported", ".yaml, .yml, .json, .js, .cjs")
	}
}

// Source produces unvalidated descriptors with load-time defaults applied.
type Source interface {
	Decode() ([]ProcessDescriptor, error)
	String() string
}

type fileSource struct {
	path string
}

// NewFileSource reads descriptors from path; the format follows the extension.
func NewFileSource(path string) Source {
	return &fileSource{path: path}
}

func (s *fileSource) Decode() ([]ProcessDescriptor, error) {
	format, err := FormatFromPath(s.path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errors.NewIOError("failed to read descriptor file", err).WithContext("path", s.path)
	}
	descriptors, err := decode(data, format)
	if err != nil {
		if domainErr, ok := err.(*errors.DomainError); ok {
			return nil, domainErr.WithContext("path", s.path)
		}
		return nil, err
	}
	return descriptors, nil
}

func (s *fileSource) String() string {
	return s.path
}

type bytesSource struct {
	data   []byte
	format Format
}

// NewBytesSource decodes descriptors from embedded content.
func NewBytesSource(data []byte, format Format) Source {
	return &bytesSource{data: data, format: format}
}

func (s *bytesSource) Decode() ([]ProcessDescriptor, error) {
	return decode(s.data, s.format)
}

func (s *bytesSource) String() string {
	return fmt.Sprintf("embedded %s (%d bytes)", s.format, len(s.data))
}

type staticSource struct {
	apps []ProcessDescriptor
}

// NewStaticSource serves a fixed set of descriptors. Every Decode returns fresh copies,
// so callers can never mutate the declaration.
func NewStaticSource(apps ...ProcessDescriptor) Source {
	copied := make([]ProcessDescriptor, len(apps))
	for i, app := range apps {
		copied[i] = app.Clone()
	}
	return &staticSource{apps: copied}
}

func (s *staticSource) Decode() ([]ProcessDescriptor, error) {
	if len(s.apps) == 0 {
		return nil, errors.NewConfigError("descriptor source declares no apps", nil)
	}
	out := make([]ProcessDescriptor, len(s.apps))
	for i, app := range s.apps {
		out[i] = app.Clone()
	}
	return out, nil
}

func (s *staticSource) String() string {
	return fmt.Sprintf("static (%d apps)", len(s.apps))
}

func decode(data []byte, format Format) ([]ProcessDescriptor, error) {
	switch format {
	case FormatYAML, FormatJSON:
		return decodeDocument(data)
	case FormatJS:
		document, err := evaluateScript(data)
		if err != nil {
			return nil, err
		}
		return decodeDocument(document)
	default:
		return nil, errors.NewConfigError(fmt.Sprintf("unsupported descriptor format: %s", format), nil)
	}
}

// decodeDocument strictly decodes YAML (and therefore JSON): unknown keys and type mismatches fail.
func decodeDocument(data []byte) ([]ProcessDescriptor, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var raw rawEcosystem
	if err := decoder.Decode(&raw); err != nil {
		if err == io.EOF {
			return nil, errors.NewConfigError("descriptor source is empty", nil)
		}
		return nil, errors.NewConfigError("failed to parse descriptor source", err)
	}
	if raw.Apps == nil {
		return nil, errors.NewConfigError("descriptor source does not declare an apps list", nil)
	}
	if len(*raw.Apps) == 0 {
		return nil, errors.NewConfigError("descriptor source declares no apps", nil)
	}

	descriptors := make([]ProcessDescriptor, 0, len(*raw.Apps))
	for _, app := range *raw.Apps {
		descriptors = append(descriptors, app.toDescriptor())
	}
	return descriptors, nil
}

const scriptTimeout = 2 * time.Second

var errScriptTimeout = fmt.Errorf("ecosystem script timed out after %v", scriptTimeout)

// evaluateScript runs a CommonJS ecosystem file and returns module.exports as JSON.
// Only module and exports are defined: no require, no process, no filesystem.
func evaluateScript(data []byte) (document []byte, err error) {
	vm := otto.New()
	vm.Interrupt = make(chan func(), 1)

	timer := time.AfterFunc(scriptTimeout, func() {
		vm.Interrupt <- func() {
			panic(errScriptTimeout)
		}
	})
	defer timer.Stop()

	defer func() {
		if caught := recover(); caught != nil {
			if caught == errScriptTimeout {
				err = errors.NewConfigError("failed to evaluate ecosystem script", errScriptTimeout)
				return
			}
			panic(caught)
		}
	}()

	if _, err := vm.Run(`var module = { exports: {} }; var exports = module.exports;`); err != nil {
		return nil, errors.NewInternalError("failed to prepare script environment", err)
	}
	if _, err := vm.Run(string(data)); err != nil {
		return nil, errors.NewConfigError("failed to evaluate ecosystem script", err)
	}

	value, err := vm.Run(`JSON.stringify(module.exports)`)
	if err != nil {
		return nil, errors.NewConfigError("ecosystem script exports cannot be serialized", err)
	}
	if value.IsUndefined() || value.IsNull() {
		return nil, errors.NewConfigError("ecosystem script does not export a value", nil)
	}
	return []byte(value.String()), nil
}
