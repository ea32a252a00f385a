package asarfs

import (
	"context"
	"os/exec"
	"plugin"
)

// DefaultShell runs Exec commands.
const DefaultShell = "/bin/sh"

// Library is a loaded dynamic library. *plugin.Plugin implements it.
type Library interface {
	Lookup(symbol string) (plugin.Symbol, error)
}

// Process runs programs and loads libraries on behalf of the overlay. Paths
// it receives are always real filesystem paths.
type Process interface {
	ExecFile(ctx context.Context, name string, args ...string) ([]byte, error)
	Exec(ctx context.Context, command string) ([]byte, error)
	Dlopen(path string) (Library, error)
}

// OSProcess uses os/exec and the plugin loader.
type OSProcess struct {
	Shell string
}

func (p OSProcess) ExecFile(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

func (p OSProcess) Exec(ctx context.Context, command string) ([]byte, error) {
	shell := p.Shell
	if shell == "" {
		shell = DefaultShell
	}
	return p.ExecFile(ctx, shell, "-c", command)
}

func (OSProcess) Dlopen(path string) (Library, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	return p, nil
}
