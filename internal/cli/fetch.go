package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tywang/bookhaul/internal/catalog"
)

var fetchURL string

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch the latest book catalog",
	Long: "fetch downloads the catalog JSON and replaces the local copy once\n" +
		"the new payload validates. The existing catalog survives a bad fetch.",
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringVar(&fetchURL, "url", "", "override the catalog source URL")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, _, err := setup()
	if err != nil {
		return err
	}

	url := cfg.Catalog.URL
	if fetchURL != "" {
		url = fetchURL
	}

	count, err := catalog.Fetch(cmd.Context(), url, cfg.CatalogPath())
	if err != nil {
		return err
	}
	fmt.Printf("Fetched catalog: %d books -> %s\n", count, cfg.CatalogPath())
	return nil
}
