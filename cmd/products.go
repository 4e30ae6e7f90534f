package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var (
	productsTenant string
	productsJSON   bool
)

var productsCmd = &cobra.Command{
	Use:   "products",
	Short: "Show per-product best prices for a tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		if productsTenant == "" {
			return eris.New("--tenant is required")
		}

		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		products, err := env.Aggregator.AggregateProducts(cmd.Context(), productsTenant)
		if err != nil {
			return err
		}

		if productsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(products)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PRODUCT\tBEST PRICE\tSUPPLIER")
		for _, p := range products {
			price := "-"
			supplier := "-"
			if p.BestPrice != nil {
				price = fmt.Sprintf("%.2f", *p.BestPrice)
				supplier = p.BestSupplierName
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", p.Name, price, supplier)
		}
		return w.Flush()
	},
}

func init() {
	productsCmd.Flags().StringVar(&productsTenant, "tenant", "", "tenant to inspect (required)")
	productsCmd.Flags().BoolVar(&productsJSON, "json", false, "emit JSON instead of a table")
	rootCmd.AddCommand(productsCmd)
}
