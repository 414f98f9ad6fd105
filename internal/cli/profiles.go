package cli

import (
	"fmt"

	"github.com/maltedev/product-image-scraper/internal/config"
	"github.com/maltedev/product-image-scraper/internal/profiles"
	"github.com/spf13/cobra"
)

func newProfilesCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "List the site profiles of a profile file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				file = cfg.Images.ProfilesFile
			}

			f, err := profiles.Load(file)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, name := range f.Names() {
				p, _ := f.Get(name)
				marker := " "
				if name == f.Default {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %-16s %s\n", marker, name, p.Selector)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "profiles-file", "", "Profile file (YAML or JSON)")

	return cmd
}
