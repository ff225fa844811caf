package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/statuskeeper/internal/config"
)

var showSecrets bool

func init() {
	configListCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "print secret values in full")
	configGetCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "print secret values in full")
	configCmd.AddCommand(configListCmd, configGetCmd, configSetCmd, configCheckCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit the configuration file",
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show every key with its effective value and type",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		values, err := config.ListValues(loadConfig(), !showSecrets)
		if err != nil {
			return err
		}
		return printValues(cmd.OutOrStdout(), values)
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the effective value of one key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		val, err := config.GetValue(cfgPath, key)
		if err != nil {
			return err
		}
		if s, ok := val.(string); ok && config.IsSecretKey(key) && !showSecrets {
			val = config.Mask(s)
		}
		fmt.Fprintln(cmd.OutOrStdout(), val)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write one key to the configuration file",
	Long: `Write one key to the configuration file. The value is parsed by the key's
type (see "config list") and rejected if the resulting file would not pass
"config check".`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetValue(cfgPath, key, value); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if config.IsSecretKey(key) {
			value = config.Mask(value)
		}
		fmt.Fprintf(out, "%s %s = %s\n", okStyle.Render("set"), key, value)
		if env, ok := config.OverriddenBy(key); ok {
			fmt.Fprintf(out, "%s %s is set and takes precedence\n", warnStyle.Render("note"), env)
		}
		return nil
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		problems := validationProblems(loadConfig().Validate())
		if len(problems) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("ok"), cfgPath)
			return nil
		}
		for _, p := range problems {
			fmt.Fprintln(cmd.ErrOrStderr(), errStyle.Render("invalid"), p)
		}
		return fmt.Errorf("%s: %d problem(s)", cfgPath, len(problems))
	},
}

// printValues writes one aligned row per key. Keys the schema does not
// know, such as hand-added ones, are listed without a type.
func printValues(w io.Writer, values map[string]any) error {
	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, name := range names {
		typ := ""
		if k, ok := config.LookupKey(name); ok {
			typ = string(k.Type)
		}
		val := fmt.Sprint(values[name])
		if env, ok := config.OverriddenBy(name); ok {
			val += " (" + env + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, val, dimStyle.Render(typ))
	}
	return tw.Flush()
}

// validationProblems splits a joined validation error into its parts.
func validationProblems(err error) []string {
	if err == nil {
		return nil
	}
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}
