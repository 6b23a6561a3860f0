package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fednorm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const validParticipantYAML = `
normalization: quantile
input_filename: in.csv
sample_genes_in_input: false
output_filename: out.csv
role: participant
participant_id: siteA
transport:
  kind: inmemory
`

func TestLoad_ValidParticipantConfig(t *testing.T) {
	path := writeTempConfig(t, validParticipantYAML)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ModeQuantile, cfg.Mode)
	assert.Equal(t, RoleParticipant, cfg.Role)
	assert.Equal(t, "siteA", cfg.ParticipantID)
}

func TestLoad_UpperQuartileModeUsesSpaceSpelling(t *testing.T) {
	path := writeTempConfig(t, `
normalization: upper quartile
input_filename: in.csv
output_filename: out.csv
role: participant
transport:
  kind: inmemory
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ModeUpperQuartile, cfg.Mode)
}

func TestLoad_MissingFileIsConfigError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestLoad_UnrecognizedModeRejected(t *testing.T) {
	path := writeTempConfig(t, `
normalization: bogus
input_filename: in.csv
sample_genes_in_input: false
output_filename: out.csv
role: participant
transport:
  kind: inmemory
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_UnrecognizedTransportKindRejected(t *testing.T) {
	path := writeTempConfig(t, `
normalization: quantile
input_filename: in.csv
sample_genes_in_input: false
output_filename: out.csv
role: participant
transport:
  kind: carrier_pigeon
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_CoordinatorWithoutParticipantCountRejected(t *testing.T) {
	path := writeTempConfig(t, `
normalization: quantile
input_filename: in.csv
sample_genes_in_input: false
output_filename: out.csv
role: coordinator
transport:
  kind: inmemory
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_CoordinatorWithParticipantCountAccepted(t *testing.T) {
	path := writeTempConfig(t, `
normalization: upper quartile
input_filename: in.csv
sample_genes_in_input: true
output_filename: out.csv
role: coordinator
participant_count: 3
transport:
  kind: inmemory
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.ParticipantCount)
}

func TestLoad_NonBooleanSampleGenesInInputRejected(t *testing.T) {
	path := writeTempConfig(t, `
normalization: quantile
input_filename: in.csv
sample_genes_in_input: diagonals
output_filename: out.csv
role: participant
transport:
  kind: inmemory
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_AppliesDocumentedDefaults(t *testing.T) {
	path := writeTempConfig(t, `
normalization: quantile
role: participant
transport:
  kind: inmemory
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "data.csv", cfg.InputFilename)
	assert.Equal(t, "result.csv", cfg.OutputFilename)
	assert.Equal(t, ",", cfg.Separator)
}

func TestLoad_SeperatorKeyOverridesDefault(t *testing.T) {
	path := writeTempConfig(t, `
normalization: quantile
input_filename: in.tsv
seperator: "\t"
output_filename: out.tsv
role: participant
transport:
  kind: inmemory
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "\t", cfg.Separator)
}

func TestLoad_NormFactorsTogglesFixedFilename(t *testing.T) {
	path := writeTempConfig(t, validParticipantYAML)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "", cfg.NormFactorsFilename())

	cfg.NormFactors = true
	assert.Equal(t, "normfactor.csv", cfg.NormFactorsFilename())
}
