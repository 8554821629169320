// Package command implements the Command Resolver: it maps a logical
// model name to the actual CLI executable, recognizes the three builtin
// families, and checks executable existence on PATH.
package command

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// BuiltinFamily names the three builtin CLI families.
type BuiltinFamily string

const (
	FamilyCode  BuiltinFamily = "code"
	FamilyCodex BuiltinFamily = "codex"
	FamilyCloud BuiltinFamily = "cloud"
)

// builtinFamilies is the set recognized as "builtin" for the
// (cli, is_builtin) tuple the resolver returns.
var builtinFamilies = map[BuiltinFamily]bool{
	FamilyCode:  true,
	FamilyCodex: true,
	FamilyCloud: true,
}

// Spec is the static per-model command specification consulted first.
type Spec struct {
	Model  string
	CLI    string
	Family BuiltinFamily // "" if the model isn't a builtin family
}

// staticSpecs mirrors the builtin-family table an implementation ships
// with; additional entries can be registered via RegisterStatic.
var staticSpecs = map[string]Spec{
	"code":  {Model: "code", CLI: "code", Family: FamilyCode},
	"codex": {Model: "codex", CLI: "codex", Family: FamilyCodex},
	"cloud": {Model: "cloud", CLI: "code-cloud", Family: FamilyCloud},
}

// RegisterStatic adds or overrides a static model->command spec.
func RegisterStatic(spec Spec) {
	staticSpecs[strings.ToLower(spec.Model)] = spec
}

// literalFallback is the small literal map consulted as a last resort.
var literalFallback = map[string]string{
	"code":  "coder", // builtin family alias
	"codex": "coder",
	"cloud": "coder",
	"claude": "claude",
	"gemini": "gemini",
	"qwen":   "qwen",
}

const otherFallback = "other"

// ConfiguredCommand is the caller-supplied per-model override consulted
// in rule 2: only the first whitespace token of Command is used, as the
// executable; the rest of Command is not used by the resolver.
type ConfiguredCommand struct {
	Command string
	Args    []string
}

// FirstToken returns the first whitespace-separated token of Command, or
// "" if Command is empty.
func (c ConfiguredCommand) FirstToken() string {
	fields := strings.Fields(c.Command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Resolve implements resolve_agent_command_for_check.
func Resolve(model string, cfg *ConfiguredCommand) (cli string, isBuiltin bool) {
	key := strings.ToLower(strings.TrimSpace(model))

	// Rule 1: static spec, only if the configured command matches the
	// spec's default CLI (case-insensitive) or is empty.
	if spec, ok := staticSpecs[key]; ok {
		if cfg == nil || cfg.Command == "" || strings.EqualFold(cfg.FirstToken(), spec.CLI) {
			return spec.CLI, builtinFamilies[spec.Family]
		}
	}

	// Rule 2: a non-empty configured command wins outright.
	if cfg != nil {
		if tok := cfg.FirstToken(); tok != "" {
			return tok, false
		}
	}

	// Rule 3: small literal fallback map.
	if cli, ok := literalFallback[key]; ok {
		_, builtin := builtinFamilies[BuiltinFamily(key)]
		return cli, builtin
	}
	return otherFallback, false
}

// FamilyOf reports the builtin family a static model name maps to, or ""
// if model isn't one of the three builtin families. Used to pick a
// runtime backend (e.g. the "cloud" family's managed SDK session)
// without re-running the full Resolve precedence chain.
func FamilyOf(model string) BuiltinFamily {
	return staticSpecs[strings.ToLower(strings.TrimSpace(model))].Family
}

// Exists checks whether cmd is runnable: absolute/relative paths are
// checked directly, PATH-relative names go through exec.LookPath, and on
// POSIX the executable bit is additionally verified.
func Exists(cmd string) bool {
	if cmd == "" {
		return false
	}
	if strings.ContainsRune(cmd, os.PathSeparator) || filepath.IsAbs(cmd) {
		info, err := os.Stat(cmd)
		if err != nil || info.IsDir() {
			return false
		}
		return isExecutable(info)
	}
	path, err := exec.LookPath(cmd)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return isExecutable(info)
}

func isExecutable(info os.FileInfo) bool {
	if info.IsDir() {
		return false
	}
	// exec.LookPath / os.Stat already confirm existence; the executable
	// bit check below is meaningful on POSIX and a no-op on platforms
	// (Windows) whose mode bits don't encode it.
	return info.Mode()&0o111 != 0 || isWindows()
}
