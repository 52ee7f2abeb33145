package console

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Handler runs a key command and returns the line to echo, or "" for none.
type Handler func() string

// Command binds a single key to a handler
type Command struct {
	Key     byte
	Help    string // menu text, e.g. "idle mode"
	Handler Handler
}

// ErrDuplicateKey is returned when a key is registered twice.
var ErrDuplicateKey = errors.New("key already registered")

// Registry holds the key commands in registration order
type Registry struct {
	mu       sync.RWMutex
	commands map[byte]*Command
	order    []byte
}

// NewRegistry creates an empty key registry
func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[byte]*Command),
	}
}

// Register adds a command for key. A nil handler registers a menu-only entry.
func (r *Registry) Register(key byte, help string, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.commands[key]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateKey, key)
	}
	r.commands[key] = &Command{Key: key, Help: help, Handler: handler}
	r.order = append(r.order, key)
	return nil
}

// Lookup returns the command bound to key
func (r *Registry) Lookup(key byte) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[key]
	return cmd, ok
}

// Count returns the number of registered keys
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Dispatch runs the command bound to key. Unknown keys are ignored and
// reported with ok=false.
func (r *Registry) Dispatch(key byte) (echo string, ok bool) {
	cmd, ok := r.Lookup(key)
	if !ok || cmd.Handler == nil {
		return "", ok
	}
	return cmd.Handler(), true
}

const menuWidth = 40

// Menu renders the help box listing every key in registration order.
func (r *Registry) Menu() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	b.WriteString(" " + strings.Repeat("_", menuWidth) + " \n")
	b.WriteString(menuRow("------- MENU ---------"))
	for _, key := range r.order {
		b.WriteString(menuRow(fmt.Sprintf("press %c : %s", key, r.commands[key].Help)))
	}
	b.WriteString("|" + strings.Repeat("_", menuWidth) + "|\n\n")
	return b.String()
}

func menuRow(text string) string {
	text = "     " + text
	if len(text) > menuWidth {
		text = text[:menuWidth]
	}
	return "|" + text + strings.Repeat(" ", menuWidth-len(text)) + "|\n"
}
