package runtime

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// Runtime defines how to launch a hosted script for a specific language.
type Runtime interface {
	// Name returns the runtime identifier (e.g., "python", "node").
	Name() string

	// Command returns the command and args to execute the given script path.
	Command(scriptPath string) []string

	// FileExtension returns the script file extension (e.g., ".py").
	FileExtension() string

	// Interpreter returns the executable looked up on PATH.
	Interpreter() string
}

// Registry maps language names to their Runtime implementations.
type Registry struct {
	runtimes map[string]Runtime
}

// NewRegistry creates a registry with all supported runtimes.
func NewRegistry() *Registry {
	r := &Registry{
		runtimes: make(map[string]Runtime),
	}
	r.Register(&PythonRuntime{})
	r.Register(&NodeRuntime{})
	return r
}

// Register adds a runtime to the registry.
func (r *Registry) Register(rt Runtime) {
	r.runtimes[rt.Name()] = rt
}

// Get returns the runtime for the given language.
func (r *Registry) Get(language string) (Runtime, error) {
	rt, ok := r.runtimes[language]
	if !ok {
		return nil, fmt.Errorf("unsupported language: %q (supported: python, node)", language)
	}
	return rt, nil
}

// ForFile resolves a runtime from a script's file extension.
func (r *Registry) ForFile(name string) (Runtime, error) {
	ext := strings.ToLower(filepath.Ext(name))
	for _, rt := range r.runtimes {
		if rt.FileExtension() == ext {
			return rt, nil
		}
	}
	return nil, fmt.Errorf("cannot run %q: only .py and .js scripts are supported", name)
}

// Available reports whether the runtime's interpreter is installed on the host.
func Available(rt Runtime) bool {
	_, err := exec.LookPath(rt.Interpreter())
	return err == nil
}

// Languages returns all registered language names.
func (r *Registry) Languages() []string {
	langs := make([]string, 0, len(r.runtimes))
	for name := range r.runtimes {
		langs = append(langs, name)
	}
	return langs
}
