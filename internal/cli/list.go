package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tywang/bookhaul/internal/catalog"
)

var (
	listCategories []string
	listKeyword    string
	listLimit      int
	listShowCats   bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog books or categories",
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringSliceVar(&listCategories, "category", nil, "only list these categories")
	listCmd.Flags().StringVar(&listKeyword, "keyword", "", "only list books matching title/author keyword")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "cap listed books (0 = all)")
	listCmd.Flags().BoolVar(&listShowCats, "categories", false, "list categories with counts instead of books")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, _, err := setup()
	if err != nil {
		return err
	}

	cat, err := catalog.Load(cfg.CatalogPath())
	if err != nil {
		return err
	}

	if listShowCats {
		for _, cc := range cat.Categories() {
			fmt.Printf("%6d  %s\n", cc.Count, cc.Name)
		}
		fmt.Printf("\n%d books total\n", cat.Len())
		return nil
	}

	books := cat.Filter(catalog.FilterOptions{
		Categories: listCategories,
		Keyword:    listKeyword,
		Limit:      listLimit,
	})
	for _, b := range books {
		fmt.Printf("%-28s  %-20s  %s\n", b.UID(), b.Category, b.Title)
	}
	fmt.Printf("\n%d books shown\n", len(books))
	return nil
}
