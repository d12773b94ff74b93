package descriptor

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/core-tools/hsu-deploy/pkg/secrets"
)

const redactedValue = "<redacted>"

// Leak is an EnvironmentLeak advisory: a plaintext secret in an env entry.
// It never carries the secret value.
type Leak struct {
	App    string
	Key    string
	Reason string
}

func (l Leak) String() string {
	return fmt.Sprintf("app %s: env %s holds a plaintext secret (%s)", l.App, l.Key, l.Reason)
}

var secretKeyWords = []string{"KEY", "TOKEN", "SECRET", "PASSWORD", "PASSWD", "CREDENTIAL", "CREDENTIALS", "PRIVATE", "AUTH", "APIKEY"}

var secretValuePrefixes = []string{
	"Bearer ", "bearer ", "Basic ",
	"sk_", "sk-", "pk_live_", "rk_live_", "re_",
	"ghp_", "gho_", "ghs_", "github_pat_",
	"xoxb-", "xoxp-", "AKIA", "AIza",
}

// CheckEnvironmentLeaks returns one advisory per env entry holding a literal secret,
// sorted by key. References resolved at deploy time are never flagged.
func CheckEnvironmentLeaks(d ProcessDescriptor) []Leak {
	var leaks []Leak
	for key, value := range d.Env {
		if value == "" || secrets.IsReference(value) {
			continue
		}
		if reason, ok := secretReason(key, value); ok {
			leaks = append(leaks, Leak{App: d.Name, Key: key, Reason: reason})
		}
	}
	sort.Slice(leaks, func(i, j int) bool { return leaks[i].Key < leaks[j].Key })
	return leaks
}

// CheckAllEnvironmentLeaks runs CheckEnvironmentLeaks over every descriptor.
func CheckAllEnvironmentLeaks(descriptors []ProcessDescriptor) []Leak {
	var leaks []Leak
	for _, d := range descriptors {
		leaks = append(leaks, CheckEnvironmentLeaks(d)...)
	}
	return leaks
}

// Redact returns a copy with every leaked value replaced, safe for printing and logging.
func Redact(d ProcessDescriptor) ProcessDescriptor {
	clone := d.Clone()
	for _, leak := range CheckEnvironmentLeaks(d) {
		clone.Env[leak.Key] = redactedValue
	}
	return clone
}

func secretReason(key, value string) (string, bool) {
	if word, ok := secretKeyWord(key); ok {
		return fmt.Sprintf("variable name contains %s", word), true
	}
	for _, prefix := range secretValuePrefixes {
		if strings.HasPrefix(value, prefix) {
			return "value looks like a credential", true
		}
	}
	if looksRandom(value) {
		return "value looks like a generated token", true
	}
	return "", false
}

func secretKeyWord(key string) (string, bool) {
	words := strings.FieldsFunc(strings.ToUpper(key), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, word := range words {
		for _, marker := range secretKeyWords {
			if word == marker {
				return marker, true
			}
		}
	}
	return "", false
}

// looksRandom flags long single-word values mixing letters and digits.
func looksRandom(value string) bool {
	if len(value) < 32 {
		return false
	}
	var letters, digits int
	for _, r := range value {
		switch {
		case unicode.IsLetter(r):
			letters++
		case unicode.IsDigit(r):
			digits++
		case strings.ContainsRune("-_+/=.", r):
		default:
			return false
		}
	}
	return letters > 0 && digits > 0
}
