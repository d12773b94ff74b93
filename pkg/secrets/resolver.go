// Package secrets resolves env value indirections at deploy time so secret
// material never has to live in a descriptor source.
//
// Supported forms:
//
//	${env:NAME}   value of NAME in the supervisor's environment
//	${file:PATH}  contents of PATH with trailing newlines trimmed
package secrets

import (
	"os"
	"regexp"
	"strings"

	"github.com/core-tools/hsu-deploy/pkg/errors"
)

const (
	KindEnv  = "env"
	KindFile = "file"
)

var referencePattern = regexp.MustCompile(`^\$\{(env|file):([^}]+)\}$`)

// Reference is a parsed indirection.
type Reference struct {
	Kind   string
	Target string
}

// ParseReference reports whether value is a whole-value indirection.
func ParseReference(value string) (Reference, bool) {
	match := referencePattern.FindStringSubmatch(strings.TrimSpace(value))
	if match == nil {
		return Reference{}, false
	}
	return Reference{Kind: match[1], Target: strings.TrimSpace(match[2])}, true
}

func IsReference(value string) bool {
	_, ok := ParseReference(value)
	return ok
}

// Resolver expands references. LookupEnv and ReadFile default to the os package.
type Resolver struct {
	LookupEnv func(string) (string, bool)
	ReadFile  func(string) ([]byte, error)
}

func NewResolver() *Resolver {
	return &Resolver{
		LookupEnv: os.LookupEnv,
		ReadFile:  os.ReadFile,
	}
}

// Resolve returns a new map with every reference replaced by its value.
// Literal values pass through unchanged.
func (r *Resolver) Resolve(env map[string]string) (map[string]string, error) {
	resolved := make(map[string]string, len(env))
	for key, value := range env {
		ref, ok := ParseReference(value)
		if !ok {
			resolved[key] = value
			continue
		}
		v, err := r.resolveReference(ref)
		if err != nil {
			return nil, errors.NewConfigError("failed to resolve secret reference", err).
				WithContext("key", key).
				WithContext("reference", value)
		}
		resolved[key] = v
	}
	return resolved, nil
}

func (r *Resolver) resolveReference(ref Reference) (string, error) {
	switch ref.Kind {
	case KindEnv:
		value, ok := r.LookupEnv(ref.Target)
		if !ok {
			return "", errors.NewConfigError("environment variable is not set", nil).WithContext("name", ref.Target)
		}
		return value, nil
	case KindFile:
		data, err := r.ReadFile(ref.Target)
		if err != nil {
			return "", errors.NewIOError("failed to read secret file", err).WithContext("path", ref.Target)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	default:
		return "", errors.NewConfigError("unsupported reference kind", nil).WithContext("kind", ref.Kind)
	}
}
