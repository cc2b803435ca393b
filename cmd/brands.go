package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/brandbeacon/mentions-pipeline/internal/model"
	"github.com/brandbeacon/mentions-pipeline/internal/store"
)

var brandsFile string

var brandsCmd = &cobra.Command{
	Use:   "brands",
	Short: "Manage the tracked brand registry",
}

// brandSeed is the on-disk shape of a brand definition file.
type brandSeed struct {
	Brands []model.TrackedBrand `yaml:"brands"`
}

var brandsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Load tracked brand definitions from a YAML file",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(brandsFile)
		if err != nil {
			return eris.Wrapf(err, "read %s", brandsFile)
		}

		var seed brandSeed
		if err := yaml.Unmarshal(data, &seed); err != nil {
			return eris.Wrapf(err, "parse %s", brandsFile)
		}
		if len(seed.Brands) == 0 {
			return eris.Errorf("no brands defined in %s", brandsFile)
		}

		ctx := cmd.Context()
		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		for _, b := range seed.Brands {
			if err := st.UpsertBrand(ctx, b); err != nil {
				return err
			}
			zap.L().Info("imported brand",
				zap.String("brand", b.Name),
				zap.Int("aliases", len(b.Aliases)),
				zap.Int("rss_feeds", len(b.RSSFeeds)))
		}

		fmt.Printf("Imported %d brands\n", len(seed.Brands))
		return nil
	},
}

var brandsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked brands",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		brands, err := st.ListBrands(ctx)
		if err != nil {
			return err
		}
		if len(brands) == 0 {
			fmt.Println("No tracked brands")
			return nil
		}
		for _, b := range brands {
			line := b.Name
			if len(b.Aliases) > 0 {
				line += " (" + strings.Join(b.Aliases, ", ") + ")"
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	brandsImportCmd.Flags().StringVarP(&brandsFile, "file", "f", "brands.yaml", "brand definition file")
	brandsCmd.AddCommand(brandsImportCmd)
	brandsCmd.AddCommand(brandsListCmd)
	rootCmd.AddCommand(brandsCmd)
}
