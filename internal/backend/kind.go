package backend

import "fmt"

// Kind identifies one of the closed set of supported language-server
// backends (spec.md §6, §9). Each kind contributes a command and a fixed
// argument vector — a small table lookup rather than an inheritance
// hierarchy. Kinds carry no env-override hook of their own: every kind
// gets the same environment from EnvOverrides and Spawn.
type Kind struct {
	Name string
	Cmd  string
	Args []string
}

var kinds = map[string]Kind{
	"pyright": {Name: "pyright", Cmd: "pyright-langserver", Args: []string{"--stdio"}},
	"ty":      {Name: "ty", Cmd: "ty", Args: []string{"server"}},
	"pyrefly": {Name: "pyrefly", Cmd: "pyrefly", Args: []string{"lsp"}},
}

// ParseKind resolves a --backend-kind value to its Kind, or an error
// naming the closed set if it doesn't match.
func ParseKind(name string) (Kind, error) {
	k, ok := kinds[name]
	if !ok {
		return Kind{}, fmt.Errorf("unknown backend kind %q (must be one of pyright, ty, pyrefly)", name)
	}
	return k, nil
}

// EnvOverrides returns the environment variable assignments to apply when
// venv is non-empty: VIRTUAL_ENV=<venv> (spec.md §6). Prefixing PATH with
// <venv>/bin is done by Spawn, not here.
func EnvOverrides(venv string) []string {
	if venv == "" {
		return nil
	}
	return []string{
		"VIRTUAL_ENV=" + venv,
	}
}
