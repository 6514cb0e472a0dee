package runtime

// PythonRuntime executes Python scripts with the host interpreter.
type PythonRuntime struct{}

func (p *PythonRuntime) Name() string { return "python" }

func (p *PythonRuntime) Interpreter() string { return "python3" }

func (p *PythonRuntime) Command(scriptPath string) []string {
	return []string{
		"python3", "-u", // Unbuffered output so the log sink fills in real time
		"-B", // Don't write .pyc files into the owner's folder
		scriptPath,
	}
}

func (p *PythonRuntime) FileExtension() string { return ".py" }
