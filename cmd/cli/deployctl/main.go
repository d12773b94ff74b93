package main

import (
	"fmt"
	"io"
	"os"

	"github.com/core-tools/hsu-deploy/pkg/logging"

	flags "github.com/jessevdk/go-flags"
)

type globalOptions struct {
	LogLevel string `long:"log-level" default:"info" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"supervisor log level"`
	DevLog   bool   `long:"dev-log" description:"human readable console logs instead of JSON"`

	stdout io.Writer
}

func (o *globalOptions) newLogger(module string) (logging.Logger, func(), error) {
	base, sync, err := logging.NewZapLogger(logging.ZapOptions{
		Level:       o.LogLevel,
		Development: o.DevLog,
	})
	if err != nil {
		return nil, nil, err
	}
	return logging.WithPrefix(base, logPrefix(module)), sync, nil
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s, ", module)
}

func newParser(opts *globalOptions) *flags.Parser {
	parser := flags.NewParser(opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.AddCommand("validate",
		"Validate a deployment descriptor file",
		"Loads and validates the file, then lists environment values that look like plaintext secrets.",
		&validateCommand{global: opts})
	parser.AddCommand("show",
		"Print the descriptors with plaintext secrets redacted",
		"Loads the file and prints every app as YAML. Environment values flagged as plaintext secrets are replaced by <redacted>; references and other values print unchanged.",
		&showCommand{global: opts})
	parser.AddCommand("start",
		"Run every app of the file under supervision",
		"Starts the requested instances of every app and keeps them running until SIGINT or SIGTERM.",
		&startCommand{global: opts})
	return parser
}

func main() {
	opts := &globalOptions{stdout: os.Stdout}
	parser := newParser(opts)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			fmt.Println(err)
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
