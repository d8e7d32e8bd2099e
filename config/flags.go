package config

import (
	"flag"
)

// Flags are the command line options of the engine process.
type Flags struct {
	ConfigPath string
	EnvPath    string
}

// ParseFlags parses the engine command line.
func ParseFlags(name string, args []string) (Flags, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fs.String("config", "", "path to yaml config overlay")
	envPath := fs.String("env", ".env", "path to .env file, missing file is ignored")

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	return Flags{ConfigPath: *configPath, EnvPath: *envPath}, nil
}
