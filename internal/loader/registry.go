package loader

import (
	"errors"
	"fmt"
	"sort"

	"github.com/me/os3/internal/user"
)

// ErrUnknownBuiltin is returned when a manifest names an unregistered program.
var ErrUnknownBuiltin = errors.New("unknown builtin application")

// Builtin is a Go application linked into the kernel image.
type Builtin struct {
	Name        string
	Description string
	// Build parses the application's arguments and returns its entry point.
	Build func(args []string) (user.Main, error)
}

// Registry maps builtin names to programs. Registration happens at startup
// before concurrent access, so no mutex is needed.
type Registry struct {
	builtins map[string]Builtin
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{builtins: make(map[string]Builtin)}
}

// DefaultRegistry returns a registry holding every bundled program.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, b := range bundled() {
		r.Register(b)
	}
	return r
}

// Register adds a program, replacing any previous one with the same name.
func (r *Registry) Register(b Builtin) {
	r.builtins[b.Name] = b
}

// Get returns the program registered under name.
func (r *Registry) Get(name string) (Builtin, error) {
	b, ok := r.builtins[name]
	if !ok {
		return Builtin{}, fmt.Errorf("%w: %q", ErrUnknownBuiltin, name)
	}
	return b, nil
}

// List returns the registered programs sorted by name.
func (r *Registry) List() []Builtin {
	out := make([]Builtin, 0, len(r.builtins))
	for _, b := range r.builtins {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
