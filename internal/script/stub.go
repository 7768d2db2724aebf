package script

import (
	"context"

	"github.com/mudpienet/mudpie/internal/model"
)

// EchoCompiler and EchoRunner are a minimal stand-in for the embedded
// script language, which spec §1 explicitly treats as an external
// collaborator named only by interface. They let a Program's source
// (treated as literal output lines, one per line) be wired end to end
// through Engine for seed content and tests without pulling in a real
// scripting runtime the examples never demonstrate.
//
// Grounded on providers/registry.go's GenericProvider: a default
// fallback implementation used until a real backend is configured.
type EchoCompiled struct {
	lines []string
}

func (EchoCompiled) Close() error { return nil }

// EchoCompiler splits a program's source into output lines at compile
// time.
type EchoCompiler struct{}

func (EchoCompiler) Compile(source string) (model.Compiled, error) {
	var lines []string
	start := 0
	for i := 0; i < len(source); i++ {
		if source[i] == '\n' {
			lines = append(lines, source[start:i])
			start = i + 1
		}
	}
	if start < len(source) {
		lines = append(lines, source[start:])
	}
	return EchoCompiled{lines: lines}, nil
}

// EchoRunner writes every compiled line to PlayerOutput and returns the
// line count as its return value.
type EchoRunner struct{}

func (EchoRunner) Run(ctx context.Context, compiled model.Compiled, globals Globals) (any, error) {
	ec, ok := compiled.(EchoCompiled)
	if !ok {
		return nil, nil
	}
	for _, line := range ec.lines {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		globals.PlayerOutput.WriteLine(line)
	}
	return len(ec.lines), nil
}
