package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"ec2launch/internal/catalog"

	"github.com/spf13/cobra"
)

var imagesRegion string

// imagesCmd prints the image catalog
var imagesCmd = &cobra.Command{
	Use:   "images",
	Short: "List catalog images per region",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cat, err := buildCatalog(cfg)
		if err != nil {
			return err
		}

		regions := cat.Regions()
		if imagesRegion != "" {
			if _, ok := cat.Images(imagesRegion); !ok {
				return &catalog.UnsupportedRegionError{Region: imagesRegion}
			}
			regions = []string{imagesRegion}
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "REGION\tARCH\tSTORE\tIMAGE")
		for _, region := range regions {
			for _, a := range []catalog.Architecture{catalog.Arch64, catalog.Arch32} {
				for _, s := range []catalog.StorageType{catalog.StorageEBS, catalog.StorageInstance} {
					image, err := cat.Lookup(region, a, s)
					if err != nil {
						return err
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", region, a, s, image)
				}
			}
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(imagesCmd)

	imagesCmd.Flags().StringVar(&imagesRegion, "region", "", "Only show this region")
}
