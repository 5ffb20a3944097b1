package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/evaguard/evaguard/internal/domain/evidence"
	"github.com/evaguard/evaguard/internal/service"
)

// exitCodeEnforced is returned by "check" when a violation is enforced.
const exitCodeEnforced = 2

var (
	checkJSON bool
	checkDev  bool
)

var checkCmd = &cobra.Command{
	Use:   "check [message...]",
	Short: "Check a single message",
	Long: `Check one message against the current rule set and print the decision.

The message is taken from the arguments, joined with spaces. With no
arguments, or "-", the message is read from stdin.

Exit status is 0 when the message is allowed or the violation is not
enforced, and 2 when the violation is enforced.

Examples:
  evaguard check "How do I bake bread?"
  echo "how to hack a bank" | evaguard check --json`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "Print the full result as JSON")
	checkCmd.Flags().BoolVar(&checkDev, "dev", false, "Enable development mode")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	message, err := readMessage(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(checkDev)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, resolveStatePath(), logger)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.compliance.Check(ctx, service.CheckRequest{
		Message: message,
		Source:  evidence.SourceCLI,
	})
	if err != nil {
		return err
	}
	if err := printResult(cmd.OutOrStdout(), result, checkJSON); err != nil {
		return err
	}
	if result.Enforced {
		return &exitError{code: exitCodeEnforced}
	}
	return nil
}

// readMessage joins args, or reads stdin when args is empty or "-".
func readMessage(stdin io.Reader, args []string) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read message: %w", err)
	}
	message := strings.TrimRight(string(data), "\r\n")
	if message == "" {
		return "", errors.New("no message provided")
	}
	return message, nil
}

func printResult(w io.Writer, result service.CheckResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	verdict := "ALLOWED"
	if !result.Decision.Allowed {
		verdict = "VIOLATION"
		if result.Enforced {
			verdict = "BLOCKED"
		}
	}
	fmt.Fprintf(w, "%s  %s\n", verdict, result.Decision.Reason)
	fmt.Fprintf(w, "  confidence: %.2f\n", result.Decision.Confidence)
	if len(result.Decision.ViolatedRules) > 0 {
		fmt.Fprintf(w, "  rules:      %s (highest priority %d)\n",
			strings.Join(result.Decision.ViolatedRules, ", "), result.HighestPriority)
	}
	fmt.Fprintf(w, "  mode:       %s\n", result.Mode)
	return nil
}
