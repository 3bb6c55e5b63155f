// Package adapters resolves driver names to adapters.
package adapters

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/torosent/cyclebench/internal/adapters/diag"
	"github.com/torosent/cyclebench/internal/adapters/stdout"
	"github.com/torosent/cyclebench/internal/ops"
)

// Options carries driver settings from the activity config.
type Options struct {
	Output string
	Format string
}

// Names lists the known drivers.
func Names() []string { return []string{diag.Name, stdout.Name} }

// New returns the adapter for driver.
func New(driver string, opts Options) (ops.Adapter, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case diag.Name:
		return diag.New(), nil
	case stdout.Name, "":
		return stdout.New(stdout.Options{Output: opts.Output, Format: opts.Format}), nil
	}
	return nil, errors.Errorf("unknown driver %q (want one of %s)", driver, strings.Join(Names(), ", "))
}
