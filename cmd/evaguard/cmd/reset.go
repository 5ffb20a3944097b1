package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/evaguard/evaguard/internal/config"
)

var (
	resetIncludeEvidence bool
	resetForce           bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove persisted state",
	Long: `Remove the rule state file and its backup. On next start evaguard
seeds the four default rules again.

Optional flags:
  --include-evidence   Also remove the SQLite evidence database
  --force              Skip confirmation prompt`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetIncludeEvidence, "include-evidence", false, "Also remove the evidence database")
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "Skip confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

type resetTarget struct {
	path string
	desc string
}

// resetTargets lists the files reset would remove, whether or not they exist.
func resetTargets(statePath string, includeEvidence bool) []resetTarget {
	targets := []resetTarget{
		{statePath, "rule state"},
		{statePath + ".bak", "rule state backup"},
	}
	if includeEvidence {
		cfg, err := config.LoadConfigRaw()
		if err == nil && cfg.Evidence.Path != "" && cfg.Evidence.Path != ":memory:" {
			targets = append(targets,
				resetTarget{cfg.Evidence.Path, "evidence database"},
				resetTarget{cfg.Evidence.Path + "-wal", "evidence write-ahead log"},
				resetTarget{cfg.Evidence.Path + "-shm", "evidence shared memory"},
			)
		}
	}
	return targets
}

func runReset(cmd *cobra.Command, args []string) error {
	out := cmd.ErrOrStderr()

	var existing []resetTarget
	for _, t := range resetTargets(resolveStatePath(), resetIncludeEvidence) {
		if _, err := os.Stat(t.path); err == nil {
			existing = append(existing, t)
		}
	}
	if len(existing) == 0 {
		fmt.Fprintln(out, "Nothing to reset: no state files found.")
		return nil
	}

	fmt.Fprintln(out, "The following will be removed:")
	for _, t := range existing {
		fmt.Fprintf(out, "  - %s (%s)\n", t.path, t.desc)
	}

	if !resetForce {
		fmt.Fprint(out, "\nProceed? [y/N] ")
		answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if a := strings.TrimSpace(answer); a != "y" && a != "Y" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	failed := 0
	for _, t := range existing {
		if err := os.Remove(t.path); err != nil {
			fmt.Fprintf(out, "  ERROR removing %s: %v\n", t.path, err)
			failed++
		} else {
			fmt.Fprintf(out, "  Removed %s\n", t.path)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d file(s) could not be removed", failed)
	}
	fmt.Fprintln(out, "\nReset complete.")
	return nil
}
