// Package envy automatically exposes environment
// variables for all of your flags.
//
// In addition to PREFIX_FLAGNAME, a variable named PREFIX_FLAGNAME_FILE
// may name a file whose trimmed contents are used as the flag value.
// This is the convention used for mounting secrets into containers.
package envy

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// Parse takes a prefix string and exposes environment variables
// for all flags in the default FlagSet (flag.CommandLine) in the
// form of PREFIX_FLAGNAME.
func Parse(p string) {
	if err := update(p, flag.CommandLine); err != nil {
		fmt.Fprintln(flag.CommandLine.Output(), err)
		os.Exit(2)
	}
}

// update takes a prefix string p and *flag.FlagSet. Each flag
// in the FlagSet is exposed as an upper case environment variable
// prefixed with p. Any flag that was not explicitly set by a user
// is updated to the environment variable, if set.
func update(p string, fs *flag.FlagSet) error {
	// Build a map of explicitly set flags.
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	var firstErr error
	fs.VisitAll(func(f *flag.Flag) {
		envVar := envName(p, f.Name)

		if !set[f.Name] {
			val, ok, err := lookup(envVar)
			if err == nil && ok {
				err = fs.Set(f.Name, val)
			}
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("envy: %s: %w", envVar, err)
			}
		}

		// Append the env var to the
		// Flag.Usage field.
		f.Usage = fmt.Sprintf("%s [%s]", f.Usage, envVar)
	})
	return firstErr
}

func envName(prefix, flagName string) string {
	name := fmt.Sprintf("%s_%s", prefix, strings.ToUpper(flagName))
	return strings.ReplaceAll(name, "-", "_")
}

// lookup returns the value of envVar, falling back to the contents of
// the file named by envVar_FILE. Empty values are treated as unset.
func lookup(envVar string) (string, bool, error) {
	if val := os.Getenv(envVar); val != "" {
		return val, true, nil
	}
	path := os.Getenv(envVar + "_FILE")
	if path == "" {
		return "", false, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", false, err
	}
	return strings.TrimSpace(string(b)), true, nil
}
