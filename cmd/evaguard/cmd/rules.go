package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/evaguard/evaguard/internal/adapter/outbound/rulefile"
	"github.com/evaguard/evaguard/internal/domain/compliance"
	"github.com/evaguard/evaguard/internal/service"
)

var (
	rulesJSON         bool
	ruleDescription   string
	rulePriority      int32
	ruleStartDisabled bool
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage the persisted rule set",
	Long: `Manage the rule set stored in the state file (--state).

The first use of any rules command seeds the four default rules.
Changes are picked up by a server on its next start. When rules.file is
configured, that file replaces the persisted set at server start.`,
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rules in evaluation order",
	Args:  cobra.NoArgs,
	RunE: withRules(func(ctx context.Context, cmd *cobra.Command, svc *service.ComplianceService, args []string) error {
		return printRules(cmd.OutOrStdout(), svc.Rules(), rulesJSON)
	}),
}

var rulesAddCmd = &cobra.Command{
	Use:   "add <id> <pattern>",
	Short: "Append a rule",
	Long: `Append a rule to the end of the rule list.

Patterns are Go regular expressions matched against the lowercased message.

Example:
  evaguard rules add no_secrets '(secret|confidential)' --priority 80 \
    --description "Block requests for confidential material"`,
	Args: cobra.ExactArgs(2),
	RunE: withRules(func(ctx context.Context, cmd *cobra.Command, svc *service.ComplianceService, args []string) error {
		rule := compliance.NewRule(args[0], ruleDescription, args[1], rulePriority)
		rule.Enabled = !ruleStartDisabled
		if err := svc.AddRule(ctx, rule); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", rule.ID)
		return nil
	}),
}

var rulesEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable a rule",
	Args:  cobra.ExactArgs(1),
	RunE: withRules(func(ctx context.Context, cmd *cobra.Command, svc *service.ComplianceService, args []string) error {
		if err := svc.EnableRule(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "enabled %s\n", args[0])
		return nil
	}),
}

var rulesDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable a rule",
	Args:  cobra.ExactArgs(1),
	RunE: withRules(func(ctx context.Context, cmd *cobra.Command, svc *service.ComplianceService, args []string) error {
		if err := svc.DisableRule(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "disabled %s\n", args[0])
		return nil
	}),
}

var rulesRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a rule",
	Args:  cobra.ExactArgs(1),
	RunE: withRules(func(ctx context.Context, cmd *cobra.Command, svc *service.ComplianceService, args []string) error {
		if err := svc.RemoveRule(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
		return nil
	}),
}

var rulesExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export rules as YAML",
	Long:  `Write the rule set as a YAML rule file, to the given path or stdout.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: withRules(func(ctx context.Context, cmd *cobra.Command, svc *service.ComplianceService, args []string) error {
		if len(args) == 1 {
			if err := rulefile.Write(args[0], svc.Rules()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "exported %d rules to %s\n", len(svc.Rules()), args[0])
			return nil
		}
		data, err := rulefile.Marshal(svc.Rules())
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}),
}

var rulesImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace the rule set from a YAML rule file",
	Long: `Replace the persisted rule set with the rules in a YAML rule file.
Nothing changes unless every pattern in the file compiles.`,
	Args: cobra.ExactArgs(1),
	RunE: withRules(func(ctx context.Context, cmd *cobra.Command, svc *service.ComplianceService, args []string) error {
		rules, err := rulefile.Load(args[0])
		if err != nil {
			return err
		}
		if err := svc.ReplaceRules(ctx, rules); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d rules\n", len(rules))
		return nil
	}),
}

type rulesFunc func(ctx context.Context, cmd *cobra.Command, svc *service.ComplianceService, args []string) error

// withRules opens the persisted rule set and runs fn against it.
func withRules(fn rulesFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
		svc, err := openRuleService(ctx, logger)
		if err != nil {
			return err
		}
		return fn(ctx, cmd, svc, args)
	}
}

func printRules(w io.Writer, rules []compliance.Rule, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rules)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPRIORITY\tENABLED\tPATTERN\tDESCRIPTION")
	for _, r := range rules {
		fmt.Fprintf(tw, "%s\t%d\t%t\t%s\t%s\n", r.ID, r.Priority, r.Enabled, r.Pattern, strings.TrimSpace(r.Description))
	}
	return tw.Flush()
}

func init() {
	rulesListCmd.Flags().BoolVar(&rulesJSON, "json", false, "Print rules as JSON")
	rulesAddCmd.Flags().StringVar(&ruleDescription, "description", "", "Rule description")
	rulesAddCmd.Flags().Int32Var(&rulePriority, "priority", 50, "Rule priority (higher is more severe)")
	rulesAddCmd.Flags().BoolVar(&ruleStartDisabled, "disabled", false, "Add the rule disabled")

	rulesCmd.AddCommand(rulesListCmd, rulesAddCmd, rulesEnableCmd, rulesDisableCmd,
		rulesRemoveCmd, rulesExportCmd, rulesImportCmd)
	rootCmd.AddCommand(rulesCmd)
}
