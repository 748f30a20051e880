package cli

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/soyeahso/supportsync/internal/config"
)

// stringKeys are never coerced to numbers or booleans by "config set".
var stringKeys = []string{
	"role", "profile", "agentId",
	"channel.url", "channel.nats.subjectPrefix",
	"api.baseUrl",
	"store.path", "store.redis.addr",
	"engine.staffRoom",
	"relay.customBindHost",
	"logging.file",
}

const masked = "********"

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Get, set or check configuration values",
	}

	cmd.AddCommand(newConfigGetCmd())
	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigUnsetCmd())
	cmd.AddCommand(newConfigValidateCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigGetCmd() *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ParseConfigPath(args[0])
			if err != nil {
				return err
			}

			raw, err := config.LoadRaw(paths.Config)
			if err != nil {
				return err
			}

			val, ok := config.GetValueAtPath(raw, path)
			if !ok {
				return fmt.Errorf("key %q not found", args[0])
			}
			if !reveal {
				val = maskSecrets(strings.Join(path, "."), val)
			}
			return printValue(cmd.OutOrStdout(), val)
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "print credential values instead of masking them")
	return cmd
}

func newConfigSetCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ParseConfigPath(args[0])
			if err != nil {
				return err
			}
			key := strings.Join(path, ".")

			raw, err := config.LoadRaw(paths.Config)
			if err != nil {
				return err
			}

			value := parseValueFor(key, args[1])
			config.SetValueAtPath(raw, path, value)
			if err := saveChecked(cmd.OutOrStdout(), raw, force); err != nil {
				return err
			}

			shown := maskSecrets(key, value)
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", key, shown)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "save even when the result fails validation")
	return cmd
}

func newConfigUnsetCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "unset <key>",
		Short: "Remove a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ParseConfigPath(args[0])
			if err != nil {
				return err
			}

			raw, err := config.LoadRaw(paths.Config)
			if err != nil {
				return err
			}

			if !config.UnsetValueAtPath(raw, path) {
				return fmt.Errorf("key %q not found", args[0])
			}
			if err := saveChecked(cmd.OutOrStdout(), raw, force); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Unset %s\n", strings.Join(path, "."))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "save even when the result fails validation")
	return cmd
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file for problems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := config.LoadRaw(paths.Config)
			if err != nil {
				return err
			}
			issues, err := checkRaw(raw)
			if err != nil {
				return err
			}
			if len(issues) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Config OK")
				return nil
			}
			printIssues(cmd.OutOrStdout(), issues)
			return &config.ConfigError{Message: fmt.Sprintf("%d config issue(s)", len(issues))}
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), paths.Config)
		},
	}
}

// checkRaw decodes an edited config map and validates the result.
func checkRaw(raw map[string]any) ([]config.ValidationIssue, error) {
	cfg, err := config.ParseRaw(raw)
	if err != nil {
		return nil, err
	}
	return config.Validate(&cfg), nil
}

// saveChecked writes raw back to the config file unless it fails
// validation. With force the issues are reported and the file is saved.
func saveChecked(w io.Writer, raw map[string]any, force bool) error {
	issues, err := checkRaw(raw)
	if err != nil {
		return err
	}
	if len(issues) > 0 {
		printIssues(w, issues)
		if !force {
			return &config.ConfigError{Message: "not saved: config would be invalid (use --force to save anyway)"}
		}
	}
	return config.SaveRaw(paths.Config, raw)
}

func printIssues(w io.Writer, issues []config.ValidationIssue) {
	for _, issue := range issues {
		fmt.Fprintf(w, "  %s\n", issue)
	}
}

// maskSecrets hides credential values under key. ${VAR} references are
// not secret and print as written.
func maskSecrets(key string, v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			sub := k
			if key != "" {
				sub = key + "." + k
			}
			out[k] = maskSecrets(sub, child)
		}
		return out
	case string:
		if val == "" || !slices.Contains(config.SensitivePaths, key) || config.IsEnvRef(val) {
			return val
		}
		return masked
	default:
		return v
	}
}

// printValue outputs a value in a human-readable format.
func printValue(w io.Writer, v any) error {
	switch val := v.(type) {
	case string:
		fmt.Fprintln(w, val)
	case map[string]any, []any:
		data, err := yaml.Marshal(val)
		if err != nil {
			return err
		}
		fmt.Fprint(w, string(data))
	default:
		fmt.Fprintln(w, val)
	}
	return nil
}

// parseValueFor interprets s for the given key. Credentials and known
// string fields stay strings; everything else goes through parseValue.
func parseValueFor(key, s string) any {
	if slices.Contains(stringKeys, key) || slices.Contains(config.SensitivePaths, key) {
		return s
	}
	return parseValue(s)
}

// parseValue attempts to interpret a string as a typed value.
func parseValue(s string) any {
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
