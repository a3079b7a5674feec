package cli

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/dmdmdm-nz/wire-sentinel/internal/config"
	"github.com/dmdmdm-nz/wire-sentinel/pkg/version"
)

// Flags holds the command line settings. Everything else lives in the
// config file.
type Flags struct {
	ConfigPath  string
	LogLevel    string
	ShowVersion bool
}

// ParseFlags parses os.Args and exits after printing the version when
// -version is given.
func ParseFlags() *Flags {
	f, err := Parse(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}
	if f.ShowVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}
	return f
}

// Parse parses args into Flags. An empty LogLevel means the config file's
// level applies.
func Parse(args []string, output io.Writer) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet("wire-sentinel", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&f.ConfigPath, "config", config.DefaultPath, "Path to the TOML config file")
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (trace, debug, info, warn, error); overrides [log] level")
	fs.BoolVar(&f.ShowVersion, "version", false, "Show version information")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return f, nil
}

// String returns a string representation of the Flags
func (f *Flags) String() string {
	return fmt.Sprintf("Config: %s, LogLevel: %s", f.ConfigPath, f.LogLevel)
}
