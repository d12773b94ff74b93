package descriptor

import (
	"github.com/core-tools/hsu-deploy/pkg/errors"
	"github.com/core-tools/hsu-deploy/pkg/logging"

	"gopkg.in/yaml.v3"
)

// Loader turns a descriptor source into validated descriptors.
type Loader struct {
	source Source
	logger logging.Logger
}

func NewLoader(source Source, logger logging.Logger) *Loader {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Loader{
		source: source,
		logger: logger,
	}
}

// LoadDescriptors decodes and validates the source. Plaintext secrets produce
// warnings but do not fail the load. Repeated calls return equal results.
func (l *Loader) LoadDescriptors() ([]ProcessDescriptor, error) {
	l.logger.Debugf("Loading descriptors, source: %s", l.source)

	descriptors, err := l.source.Decode()
	if err != nil {
		l.logger.Errorf("Failed to decode descriptors, source: %s, error: %v", l.source, err)
		return nil, err
	}

	if err := Validate(descriptors); err != nil {
		l.logger.Errorf("Descriptor validation failed, source: %s, error: %v", l.source, err)
		return nil, err
	}

	for _, leak := range CheckAllEnvironmentLeaks(descriptors) {
		l.logger.Warnf("Environment leak, app: %s, key: %s, reason: %s; inject it with ${env:NAME} or ${file:PATH} instead",
			leak.App, leak.Key, leak.Reason)
	}

	l.logger.Infof("Loaded %d descriptor(s), source: %s", len(descriptors), l.source)
	return descriptors, nil
}

// LoadDescriptorsFromFile is a shortcut for NewLoader(NewFileSource(path), logger).LoadDescriptors().
func LoadDescriptorsFromFile(path string, logger logging.Logger) ([]ProcessDescriptor, error) {
	return NewLoader(NewFileSource(path), logger).LoadDescriptors()
}

// Marshal encodes descriptors as a YAML ecosystem document that loads back to equal records.
func Marshal(descriptors []ProcessDescriptor) ([]byte, error) {
	data, err := yaml.Marshal(Ecosystem{Apps: descriptors})
	if err != nil {
		return nil, errors.NewInternalError("failed to encode descriptors", err)
	}
	return data, nil
}
