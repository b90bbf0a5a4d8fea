package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/scangate/internal/profiles"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List available scan profiles",
	Long: `Lists the bundled scan profiles plus any user profiles under
~/.scangate/profiles/. A user profile with the same name as a bundled one
shadows it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := profiles.List(profiles.DefaultDir())
		if err != nil {
			return fmt.Errorf("listing profiles: %w", err)
		}
		sort.Slice(list, func(i, j int) bool {
			if list[i].Depth() != list[j].Depth() {
				return list[i].Depth() < list[j].Depth()
			}
			return list[i].Name < list[j].Name
		})

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tDEPTH\tTOOLS\tSOURCE\tDESCRIPTION")
		for _, p := range list {
			source := "user"
			if p.Bundled {
				source = "bundled"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				p.Name, p.DepthName, strings.Join(p.Tools, ","), source, p.Description)
		}
		w.Flush()
		return nil
	},
}
