package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/raphaelgruber/textsieve/internal/config"
	"github.com/raphaelgruber/textsieve/internal/extract"
	"github.com/raphaelgruber/textsieve/internal/filter"
	"github.com/raphaelgruber/textsieve/internal/minhash"
	"github.com/raphaelgruber/textsieve/internal/models"
	"github.com/spf13/cobra"
)

var (
	checkJSON bool
	checkKey  string
)

var checkCmd = &cobra.Command{
	Use:   "check [text]",
	Short: "Evaluate one text block against the filter",
	Long: `Evaluate a single text block and print the filter verdict and its
MinHash signature summary. Without an argument the text is read from stdin.

Examples:
  textsieve check "Sponsored content: buy now"
  textsieve check --profile legal < opinion.txt
  textsieve check --key patient_metadata --profile medical "..."
  textsieve check --json "some text"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "print the result as JSON")
	checkCmd.Flags().StringVar(&checkKey, "key", "", "record key to test against the blacklist")
	checkCmd.Flags().StringVarP(&runProfile, "profile", "p", config.DefaultProfile, "filter profile")
	checkCmd.Flags().StringVar(&runHTML, "html", "never", "HTML extraction (never, auto, always)")
}

// checkResult is what check reports about one text.
type checkResult struct {
	Profile   string        `json:"profile"`
	Keep      bool          `json:"keep"`
	Reason    models.Reason `json:"reason,omitempty"`
	Tokens    int           `json:"tokens"`
	Extracted bool          `json:"extracted,omitempty"`
	Empty     bool          `json:"empty_signature"`
	NumPerm   int           `json:"num_perm"`
	Bands     int           `json:"bands"`
	Rows      int           `json:"rows"`
	Signature []string      `json:"signature_head"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	if flags.Changed("profile") {
		cfg.Filter.Profile = runProfile
	}
	if flags.Changed("html") {
		cfg.Input.HTML = runHTML
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var text string
	if len(args) == 1 {
		text = args[0]
	} else {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		text = strings.TrimRight(string(data), "\r\n")
	}

	res, err := evaluateText(cfg, checkKey, text)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if checkJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printCheck(w, res)
	return nil
}

// evaluateText runs the per-record stages of the pipeline on one text.
func evaluateText(c *config.Config, key, text string) (checkResult, error) {
	profile, err := c.Profile()
	if err != nil {
		return checkResult{}, err
	}
	f, err := filter.New(profile.Filter)
	if err != nil {
		return checkResult{}, fmt.Errorf("filter: %w", err)
	}

	res := checkResult{Profile: profile.Name}
	if ex := extract.New(c.HTMLMode()); ex.Applies(text) {
		out, err := ex.Text(text)
		if err != nil {
			slog.Warn("html extraction failed, using raw text", "error", err)
		} else {
			text = out
			res.Extracted = true
		}
	}

	verdict := f.EvaluateRecord(models.Record{Key: key, Text: text, OK: true})
	res.Keep = verdict.Keep
	res.Reason = verdict.Reason
	res.Tokens = len(filter.Tokens(text))

	opts := c.IndexOptions()
	sig := minhash.NewHasher(opts.NumPerm, c.Dedup.Seed).Signature(text)
	res.Empty = sig.IsEmpty()
	res.NumPerm = opts.NumPerm
	res.Bands, res.Rows = opts.Layout()
	for _, v := range sig[:min(4, len(sig))] {
		res.Signature = append(res.Signature, fmt.Sprintf("%016x", v))
	}
	return res, nil
}

func printCheck(w io.Writer, res checkResult) {
	verdict := defaultTheme.completedStyle().Render("KEEP")
	if !res.Keep {
		verdict = defaultTheme.errorStyle().Render("DROP " + string(res.Reason))
	}
	fmt.Fprintf(w, "Verdict:   %s\n", verdict)
	fmt.Fprintf(w, "Profile:   %s\n", res.Profile)
	fmt.Fprintf(w, "Tokens:    %d\n", res.Tokens)
	if res.Extracted {
		fmt.Fprintln(w, "HTML:      extracted")
	}
	fmt.Fprintf(w, "Signature: %d permutations, %d bands x %d rows\n", res.NumPerm, res.Bands, res.Rows)
	if res.Empty {
		fmt.Fprintln(w, "           empty (no tokens)")
	} else {
		fmt.Fprintf(w, "           %s ...\n", strings.Join(res.Signature, " "))
	}
}
