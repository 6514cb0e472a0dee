package runtime

// NodeRuntime executes JavaScript scripts with the host Node.js interpreter.
type NodeRuntime struct{}

func (n *NodeRuntime) Name() string { return "node" }

func (n *NodeRuntime) Interpreter() string { return "node" }

func (n *NodeRuntime) Command(scriptPath string) []string {
	return []string{"node", scriptPath}
}

func (n *NodeRuntime) FileExtension() string { return ".js" }
