package cli

import (
	"fmt"
	"io"

	"github.com/raphaelgruber/textsieve/internal/config"
	"github.com/spf13/cobra"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles [name]",
	Short: "List filter profiles or show one as YAML",
	Long: `List the available filter profiles, or print one profile as YAML.

Profiles from filter.profile_file (TEXTSIEVE_PROFILE_FILE) are listed next to
the built-in ones. The YAML output can be edited and loaded back as a custom
profile file.

Examples:
  textsieve profiles
  textsieve profiles medical > profiles.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProfiles,
}

func runProfiles(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	if len(args) == 1 {
		return showProfile(w, args[0], cfg.Filter.ProfileFile)
	}
	return listProfiles(w, cfg.Filter.ProfileFile, cfg.Filter.Profile)
}

func listProfiles(w io.Writer, file, current string) error {
	names, err := config.ListProfiles(file)
	if err != nil {
		return err
	}

	for _, name := range names {
		p, err := config.LoadProfile(name, file)
		if err != nil {
			fmt.Fprintf(w, "  %-10s (invalid: %v)\n", name, err)
			continue
		}
		marker := " "
		if name == current {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %-10s %s\n", marker, name, p.Description)
	}
	return nil
}

func showProfile(w io.Writer, name, file string) error {
	p, err := config.LoadProfile(name, file)
	if err != nil {
		return err
	}
	data, err := p.YAML()
	if err != nil {
		return fmt.Errorf("render profile: %w", err)
	}
	_, err = w.Write(data)
	return err
}
