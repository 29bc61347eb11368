package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5.0, cfg.Plant.MinOfferKWh)
}

func TestValidateRejectsNonPositiveMinPlantOffer(t *testing.T) {
	for _, v := range []float64{0, -1} {
		cfg := Default()
		cfg.Plant.MinOfferKWh = v
		assert.ErrorContains(t, cfg.Validate(), "plant.min_offer_kwh")
	}
}

func TestLoadRejectsZeroMinPlantOffer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("plant:\n  min_offer_kwh: 0\n"), 0o600))

	_, err := Load(viper.New(), path)
	assert.ErrorContains(t, err, "plant.min_offer_kwh")
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("houses: 8\nplant:\n  min_offer_kwh: 2.5\n"), 0o600))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Houses)
	assert.Equal(t, 2.5, cfg.Plant.MinOfferKWh)
}
