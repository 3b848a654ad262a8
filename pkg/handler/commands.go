// Copyright 2024-2026 Aiku AI

// Package handler provides the default message, command and event handlers
// the router dispatches to.
package handler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrUnknownCommand   = errors.New("unknown command")
	ErrDuplicateCommand = errors.New("command already registered")
)

// Request is one parsed command invocation.
type Request struct {
	Name   string
	Args   []string
	ChatID string
	Sender string
	Owner  bool
}

// Command is a named action the bot answers to.
type Command struct {
	Name        string
	Description string
	OwnerOnly   bool
	Run         func(ctx context.Context, req Request) (string, error)
}

// Commands is the command registry.
type Commands struct {
	log     zerolog.Logger
	botName string
	version string
	prefix  string
	started time.Time

	mu       sync.RWMutex
	commands map[string]*Command
}

// NewCommands creates an empty registry. Call InitializeCommands before use.
func NewCommands(botName, version, prefix string, log zerolog.Logger) *Commands {
	return &Commands{
		log:      log.With().Str("component", "commands").Logger(),
		botName:  botName,
		version:  version,
		prefix:   prefix,
		started:  time.Now(),
		commands: make(map[string]*Command),
	}
}

// InitializeCommands registers the built-in commands.
func (c *Commands) InitializeCommands(_ context.Context) error {
	builtins := []*Command{
		{
			Name:        "ping",
			Description: "Check that the bot responds",
			Run: func(context.Context, Request) (string, error) {
				return "pong", nil
			},
		},
		{
			Name:        "alive",
			Description: "Show version and uptime",
			Run: func(context.Context, Request) (string, error) {
				uptime := time.Since(c.started).Truncate(time.Second)
				return fmt.Sprintf("%s %s is alive (up %s)", c.botName, c.version, uptime), nil
			},
		},
		{
			Name:        "help",
			Description: "List available commands",
			Run:         c.help,
		},
	}
	for _, cmd := range builtins {
		if err := c.Register(cmd); err != nil {
			return fmt.Errorf("failed to register %s: %w", cmd.Name, err)
		}
	}
	c.log.Info().Strs("commands", c.Names()).Msg("Commands initialized")
	return nil
}

// Register adds a command. Names are case-insensitive.
func (c *Commands) Register(cmd *Command) error {
	name := strings.ToLower(cmd.Name)
	if name == "" || cmd.Run == nil {
		return fmt.Errorf("command needs a name and a Run func")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.commands[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCommand, name)
	}
	c.commands[name] = cmd
	return nil
}

// Lookup returns the command registered under name.
func (c *Commands) Lookup(name string) (*Command, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cmd, ok := c.commands[strings.ToLower(name)]
	return cmd, ok
}

// Names returns the registered command names, sorted.
func (c *Commands) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.commands))
	for name := range c.commands {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Parse splits "<prefix><name> args..." into a request. It reports false when
// text is not a command.
func (c *Commands) Parse(text string) (Request, bool) {
	text = strings.TrimSpace(text)
	if c.prefix == "" || !strings.HasPrefix(text, c.prefix) {
		return Request{}, false
	}
	fields := strings.Fields(strings.TrimPrefix(text, c.prefix))
	if len(fields) == 0 {
		return Request{}, false
	}
	return Request{Name: strings.ToLower(fields[0]), Args: fields[1:]}, true
}

// Execute runs the named command.
func (c *Commands) Execute(ctx context.Context, req Request) (string, error) {
	cmd, ok := c.Lookup(req.Name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, req.Name)
	}
	if cmd.OwnerOnly && !req.Owner {
		return "", nil
	}
	return cmd.Run(ctx, req)
}

func (c *Commands) help(context.Context, Request) (string, error) {
	var sb strings.Builder
	sb.WriteString("Available commands:\n")
	for _, name := range c.Names() {
		cmd, _ := c.Lookup(name)
		fmt.Fprintf(&sb, "- `%s%s`: %s\n", c.prefix, name, cmd.Description)
	}
	return sb.String(), nil
}
