// Package langs is a small static registry mapping a language name to the
// interpreter invocation used to run a single source file, the Go
// generalization of original_source/app/nsjail/nsjail.py's python3()
// convenience helper. It exists purely for the CLI's --lang shortcut; the
// project runner itself never sees a language name, only a Command.
package langs

import (
	"fmt"
	"strings"
)

// LanguageSpec names the interpreter invocation template for one language.
// Template uses "{file}" as a placeholder for the staged source file's
// virtual path.
type LanguageSpec struct {
	Name       string
	Template   []string
	FileSuffix string
}

// Registry lists the languages the CLI knows how to wrap in a one-command
// project. Entries are seeded from interpreters visible across the
// reference corpus's own fixtures (Python, Node, POSIX shell) plus Go,
// for parity with this repository's own language.
var Registry = map[string]LanguageSpec{
	"python3": {Name: "python3", Template: []string{"/usr/local/bin/python3", "{file}"}, FileSuffix: ".py"},
	"node":    {Name: "node", Template: []string{"/usr/bin/node", "{file}"}, FileSuffix: ".js"},
	"sh":      {Name: "sh", Template: []string{"/bin/sh", "{file}"}, FileSuffix: ".sh"},
	"go":      {Name: "go", Template: []string{"/usr/local/go/bin/go", "run", "{file}"}, FileSuffix: ".go"},
}

// ErrUnknownLanguage is returned by CommandFor when name is not in Registry.
type ErrUnknownLanguage string

func (e ErrUnknownLanguage) Error() string {
	return fmt.Sprintf("langs: unknown language %q", string(e))
}

// CommandFor renders name's invocation template against file, returning a
// ready-to-split shell command line.
func CommandFor(name, file string) (string, error) {
	spec, ok := Registry[name]
	if !ok {
		return "", ErrUnknownLanguage(name)
	}
	words := make([]string, len(spec.Template))
	for i, w := range spec.Template {
		words[i] = strings.ReplaceAll(w, "{file}", file)
	}
	return strings.Join(words, " "), nil
}
