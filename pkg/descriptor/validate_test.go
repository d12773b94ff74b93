package descriptor

import (
	"testing"
	"time"

	"github.com/core-tools/hsu-deploy/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDescriptor(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*ProcessDescriptor)
		shouldErr bool
	}{
		{"valid", func(d *ProcessDescriptor) {}, false},
		{"no memory threshold", func(d *ProcessDescriptor) { d.MaxMemoryRestart = "" }, false},
		{"many instances", func(d *ProcessDescriptor) { d.Instances = 8 }, false},
		{"blank name", func(d *ProcessDescriptor) { d.Name = "  " }, true},
		{"no script", func(d *ProcessDescriptor) { d.Script = "" }, true},
		{"zero instances", func(d *ProcessDescriptor) { d.Instances = 0 }, true},
		{"negative instances", func(d *ProcessDescriptor) { d.Instances = -4 }, true},
		{"empty env key", func(d *ProcessDescriptor) { d.Env[""] = "x" }, true},
		{"env key with equals", func(d *ProcessDescriptor) { d.Env["A=B"] = "x" }, true},
		{"negative restart delay", func(d *ProcessDescriptor) { d.RestartDelay = Duration(-time.Second) }, true},
		{"negative kill timeout", func(d *ProcessDescriptor) { d.KillTimeout = Duration(-time.Second) }, true},
		{"negative max restarts", func(d *ProcessDescriptor) { d.MaxRestarts = -1 }, true},
		{"zero memory", func(d *ProcessDescriptor) { d.MaxMemoryRestart = "0" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := invoiceAPI()
			tt.modify(&d)

			err := ValidateDescriptor(d)
			if tt.shouldErr {
				require.Error(t, err)
				assert.True(t, errors.IsConfigError(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateRejectsDuplicateNames(t *testing.T) {
	first := invoiceAPI()
	second := invoiceAPI()
	second.Env = map[string]string{"NODE_ENV": "staging"}

	err := Validate([]ProcessDescriptor{first, second})
	require.Error(t, err)
	assert.True(t, errors.IsConfigError(err))
	assert.Contains(t, err.Error(), "duplicate app name 'invoice-api'")
}

func TestValidateReportsEveryProblem(t *testing.T) {
	noName := invoiceAPI()
	noName.Name = ""
	noInstances := invoiceAPI()
	noInstances.Name = "other"
	noInstances.Instances = 0

	err := Validate([]ProcessDescriptor{noName, noInstances})
	require.Error(t, err)

	var domainErr *errors.DomainError
	require.ErrorAs(t, err, &domainErr)
	collection, ok := domainErr.Cause.(*errors.ErrorCollection)
	require.True(t, ok)
	assert.Len(t, collection.Errors, 2)
}

func TestParseMemorySize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1G", 1 << 30, false},
		{"1GB", 1 << 30, false},
		{"512M", 512 << 20, false},
		{"200K", 200 << 10, false},
		{"1048576", 1 << 20, false},
		{"", 0, true},
		{"-1G", 0, true},
		{"huge", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMemorySize(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsConfigError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestArgumentList(t *testing.T) {
	d := invoiceAPI()
	args, err := d.ArgumentList()
	require.NoError(t, err)
	assert.Equal(t, []string{"main:app", "--host", "0.0.0.0", "--port", "8000"}, args)

	d.Args = `run --label "two words" --empty ''`
	args, err = d.ArgumentList()
	require.NoError(t, err)
	assert.Equal(t, []string{"run", "--label", "two words", "--empty", ""}, args)

	d.Args = ""
	args, err = d.ArgumentList()
	require.NoError(t, err)
	assert.Empty(t, args)
}
