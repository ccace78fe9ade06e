// Package cli holds helpers shared by the chimera and chimerad binaries.
package cli

import (
	"encoding/json"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const helpJSONFlag = "help-json"

// FlagSchema describes one flag of a command.
type FlagSchema struct {
	Name        string `json:"name"`
	Shorthand   string `json:"shorthand,omitempty"`
	Type        string `json:"type"`
	Default     string `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
	Inherited   bool   `json:"inherited,omitempty"`
}

// CommandSchema is the machine readable form of a command tree, used by
// scripts and agents that drive the CLI.
type CommandSchema struct {
	Name        string          `json:"name"`
	Path        string          `json:"path"`
	Use         string          `json:"use,omitempty"`
	Aliases     []string        `json:"aliases,omitempty"`
	Args        []string        `json:"args,omitempty"`
	Description string          `json:"description,omitempty"`
	Long        string          `json:"long,omitempty"`
	Runnable    bool            `json:"runnable"`
	Flags       []FlagSchema    `json:"flags,omitempty"`
	Subcommands []CommandSchema `json:"subcommands,omitempty"`
}

func GenerateSchema(cmd *cobra.Command) CommandSchema {
	schema := CommandSchema{
		Name:        cmd.Name(),
		Path:        cmd.CommandPath(),
		Use:         cmd.Use,
		Aliases:     cmd.Aliases,
		Args:        positionalArgs(cmd.Use),
		Description: cmd.Short,
		Long:        cmd.Long,
		Runnable:    cmd.Runnable(),
		Flags:       collectFlags(cmd),
	}

	for _, sub := range cmd.Commands() {
		if sub.Hidden || sub.Name() == "help" || sub.Name() == "completion" {
			continue
		}
		schema.Subcommands = append(schema.Subcommands, GenerateSchema(sub))
	}
	return schema
}

// positionalArgs pulls "<query...>" or "[run-id]" style tokens out of Use.
func positionalArgs(use string) []string {
	fields := strings.Fields(use)
	if len(fields) < 2 {
		return nil
	}
	var args []string
	for _, f := range fields[1:] {
		if strings.HasPrefix(f, "[flags]") {
			continue
		}
		args = append(args, f)
	}
	return args
}

func collectFlags(cmd *cobra.Command) []FlagSchema {
	var flags []FlagSchema
	add := func(inherited bool) func(*pflag.Flag) {
		return func(f *pflag.Flag) {
			if f.Hidden || f.Name == "help" || f.Name == helpJSONFlag {
				return
			}
			flags = append(flags, flagToSchema(f, inherited))
		}
	}
	cmd.LocalFlags().VisitAll(add(false))
	cmd.InheritedFlags().VisitAll(add(true))
	return flags
}

func flagToSchema(f *pflag.Flag, inherited bool) FlagSchema {
	_, required := f.Annotations[cobra.BashCompOneRequiredFlag]
	return FlagSchema{
		Name:        f.Name,
		Shorthand:   f.Shorthand,
		Type:        f.Value.Type(),
		Default:     f.DefValue,
		Description: f.Usage,
		Required:    required,
		Inherited:   inherited,
	}
}

// WriteSchema writes the schema of cmd as indented JSON.
func WriteSchema(out io.Writer, cmd *cobra.Command) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(GenerateSchema(cmd))
}

// AddHelpJSONFlag adds --help-json to every command below root.
func AddHelpJSONFlag(root *cobra.Command) {
	root.PersistentFlags().Bool(helpJSONFlag, false, "Output command schema as JSON")
}

// CheckHelpJSON handles --help-json before cobra parses args, so required
// flags and arg validators do not get in the way. It reports whether the
// schema was written.
func CheckHelpJSON(root *cobra.Command, args []string, out io.Writer) (bool, error) {
	i := slices.Index(args, "--"+helpJSONFlag)
	if i < 0 {
		return false, nil
	}
	return true, WriteSchema(out, findTargetCommand(root, args[:i]))
}

func findTargetCommand(cmd *cobra.Command, args []string) *cobra.Command {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return cmd
	}
	for _, sub := range cmd.Commands() {
		if sub.Name() == args[0] || sub.HasAlias(args[0]) {
			return findTargetCommand(sub, args[1:])
		}
	}
	return cmd
}
