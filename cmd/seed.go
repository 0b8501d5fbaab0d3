package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/store-locator/internal/model"
)

var seedPath string

// seedFile is the on-disk format accepted by the seed command.
type seedFile struct {
	Stores []model.StoreRecord `yaml:"stores"`
}

// loadSeed reads and checks a seed file.
func loadSeed(path string) ([]model.StoreRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "seed: read %s", path)
	}

	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "seed: parse %s", path)
	}

	seen := make(map[int64]bool, len(f.Stores))
	for i, r := range f.Stores {
		if r.ID <= 0 {
			return nil, eris.Errorf("seed: store %d: id must be > 0", i)
		}
		if seen[r.ID] {
			return nil, eris.Errorf("seed: duplicate store id %d", r.ID)
		}
		seen[r.ID] = true
		if r.Latitude < -90 || r.Latitude > 90 || r.Longitude < -180 || r.Longitude > 180 {
			return nil, eris.Errorf("seed: store %d: coordinate out of range", r.ID)
		}
	}
	return f.Stores, nil
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load retailers from a YAML file into the store database",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("seed"); err != nil {
			return err
		}
		ctx := cmd.Context()

		records, err := loadSeed(seedPath)
		if err != nil {
			return err
		}

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "seed: migrate")
		}

		n, err := st.UpsertStores(ctx, records)
		if err != nil {
			return eris.Wrap(err, "seed: upsert")
		}

		zap.L().Info("seed complete",
			zap.Int64("upserted", n),
			zap.String("file", seedPath),
		)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedPath, "file", "", "path to seed YAML file (required)")
	_ = seedCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(seedCmd)
}
