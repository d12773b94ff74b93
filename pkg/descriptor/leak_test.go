package descriptor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckEnvironmentLeaks(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		leaks []string
	}{
		{
			name:  "plain configuration",
			env:   map[string]string{"NODE_ENV": "production", "FROM_EMAIL": "invoices@example.com", "PORT": "8000"},
			leaks: nil,
		},
		{
			name:  "secret names",
			env:   map[string]string{"API_SECRET_TOKEN": "abc", "db-password": "hunter2", "RESEND_API_KEY": "x"},
			leaks: []string{"API_SECRET_TOKEN", "RESEND_API_KEY", "db-password"},
		},
		{
			name:  "references are safe",
			env:   map[string]string{"API_SECRET_TOKEN": "${env:API_SECRET_TOKEN}", "RESEND_API_KEY": "${file:/run/secrets/resend}"},
			leaks: nil,
		},
		{
			name:  "empty secret is not a leak",
			env:   map[string]string{"API_SECRET_TOKEN": ""},
			leaks: nil,
		},
		{
			name:  "credential shaped values",
			env:   map[string]string{"UPSTREAM": "Bearer abc.def", "STRIPE": "sk_live_123", "GH": "ghp_abcdef"},
			leaks: []string{"GH", "STRIPE", "UPSTREAM"},
		},
		{
			name:  "random looking value",
			env:   map[string]string{"SIGNING": "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6e7", "GREETING": "hello-there-general-kenobi-welcome"},
			leaks: []string{"SIGNING"},
		},
		{
			name:  "monkey is not a key",
			env:   map[string]string{"MONKEY_NAME": "george"},
			leaks: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := invoiceAPI()
			d.Env = tt.env

			var keys []string
			for _, leak := range CheckEnvironmentLeaks(d) {
				assert.Equal(t, "invoice-api", leak.App)
				assert.NotEmpty(t, leak.Reason)
				keys = append(keys, leak.Key)
			}
			assert.Equal(t, tt.leaks, keys)
		})
	}
}

func TestRedact(t *testing.T) {
	d := invoiceAPI()
	d.Env = map[string]string{
		"NODE_ENV":         "production",
		"API_SECRET_TOKEN": "plaintext",
		"RESEND_API_KEY":   "${env:RESEND_API_KEY}",
	}

	redacted := Redact(d)
	assert.Equal(t, "production", redacted.Env["NODE_ENV"])
	assert.Equal(t, "<redacted>", redacted.Env["API_SECRET_TOKEN"])
	assert.Equal(t, "${env:RESEND_API_KEY}", redacted.Env["RESEND_API_KEY"])

	assert.Equal(t, "plaintext", d.Env["API_SECRET_TOKEN"], "original must stay untouched")

	out, err := Marshal([]ProcessDescriptor{redacted})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "plaintext")
}
