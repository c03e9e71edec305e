package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfmri/internal/models"
	"pdfmri/internal/testutil"
	"pdfmri/pkg/config"
)

// workspace writes a config using a local 4-region atlas and returns its path.
func workspace(t *testing.T) (dir, cfgPath string) {
	t.Helper()
	dir = t.TempDir()

	a := testutil.MapsAtlas(t, testutil.DefaultGrid, 4)
	atlasPath := testutil.WriteImage(t, dir, "atlas.nii.gz", a.Image)

	cfg := config.DefaultConfig()
	cfg.Processing.NumCores = 2
	cfg.Atlas.Path = atlasPath
	cfg.Features.ExpectedLength = 6
	cfg.Classifier.ModelPath = filepath.Join(dir, "models", "pd_classifier.json")
	cfg.Store.Path = filepath.Join(dir, "history.db")
	cfg.Watch.Dir = filepath.Join(dir, "uploads")
	cfg.Log.Level = "error"

	cfgPath = filepath.Join(dir, "pdfmri.yaml")
	require.NoError(t, config.SaveConfig(cfg, cfgPath))
	require.NoError(t, os.MkdirAll(cfg.Watch.Dir, 0755))
	return dir, cfgPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestAnalyzeSandboxFlow(t *testing.T) {
	dir, cfgPath := workspace(t)
	scan := testutil.WriteImage(t, filepath.Join(dir, "uploads"), "sub-01.nii.gz",
		testutil.Scan(t, testutil.DefaultGrid, 12, 4, 5))

	out, err := run(t, "analyze", "--config", cfgPath, "--sandbox", "--json", scan)
	require.NoError(t, err)
	var results []models.Result
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, models.ModelMissing, results[0].Label)
	assert.Equal(t, filepath.Join(dir, "uploads", "sub-01_viewer.nii.gz"), results[0].SnapshotPath)
	assert.FileExists(t, filepath.Join(dir, "models", "pd_classifier.json"))

	out, err = run(t, "analyze", "--config", cfgPath, "--json", scan)
	require.NoError(t, err)
	results = nil
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.True(t, results[0].Label.Diagnostic())
	assert.True(t, results[0].PlaceholderModel)

	out, err = run(t, "history", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Total: 2")
	assert.Contains(t, out, "PLACEHOLDER MODEL")
}

func TestSandboxPlaceholderMatchesAtlas(t *testing.T) {
	dir, cfgPath := workspace(t)
	cfg, err := config.LoadConfig(cfgPath)
	require.NoError(t, err)
	cfg.Features.ExpectedLength = 741
	require.NoError(t, config.SaveConfig(cfg, cfgPath))

	scan := testutil.WriteImage(t, filepath.Join(dir, "uploads"), "sub-02.nii.gz",
		testutil.Scan(t, testutil.DefaultGrid, 12, 4, 9))

	var results []models.Result
	out, err := run(t, "analyze", "--config", cfgPath, "--sandbox", "--json", scan)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, models.ModelMissing, results[0].Label)

	out, err = run(t, "analyze", "--config", cfgPath, "--sandbox", "--json", scan)
	require.NoError(t, err)
	results = nil
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.True(t, results[0].Label.Diagnostic())
	assert.Equal(t, 6, results[0].FeatureCount)
}

func TestAnalyzeJSONMissingSnapshotIsNull(t *testing.T) {
	dir, cfgPath := workspace(t)
	out, err := run(t, "analyze", "--config", cfgPath, "--json", filepath.Join(dir, "absent.nii.gz"))
	require.NoError(t, err)
	assert.Contains(t, out, `"snapshotPath": null`)
	assert.Contains(t, out, string(models.AnalysisFailed))
}

func TestProvisionModel(t *testing.T) {
	dir, cfgPath := workspace(t)

	out, err := run(t, "provision-model", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Placeholder model with 6 features")
	assert.FileExists(t, filepath.Join(dir, "models", "pd_classifier.json"))

	out, err = run(t, "provision-model", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")
}

func TestModelFlagFromEnvironment(t *testing.T) {
	dir, cfgPath := workspace(t)
	modelPath := filepath.Join(dir, "env-model.json")
	t.Setenv("PDFMRI_MODEL", modelPath)

	_, err := run(t, "provision-model", "--config", cfgPath)
	require.NoError(t, err)
	assert.FileExists(t, modelPath)
	assert.NoFileExists(t, filepath.Join(dir, "models", "pd_classifier.json"))
}

func TestCleanSnapshots(t *testing.T) {
	dir, cfgPath := workspace(t)
	uploads := filepath.Join(dir, "uploads")
	for _, n := range []string{"a.nii.gz", "a_viewer.nii.gz", "b_viewer.nii"} {
		require.NoError(t, os.WriteFile(filepath.Join(uploads, n), nil, 0644))
	}

	out, err := run(t, "clean-snapshots", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "2 viewer files removed")
	assert.FileExists(t, filepath.Join(uploads, "a.nii.gz"))
}

func TestPreview(t *testing.T) {
	dir, cfgPath := workspace(t)
	scan := testutil.WriteImage(t, dir, "sub-02.nii.gz", testutil.Scan(t, testutil.DefaultGrid, 12, 4, 9))
	outDir := filepath.Join(dir, "previews")

	_, err := run(t, "preview", "--config", cfgPath, "-o", outDir, scan)
	require.NoError(t, err)
	for _, axis := range []string{"x", "y", "z"} {
		assert.FileExists(t, filepath.Join(outDir, "sub-02_viewer_"+axis+".jpg"))
	}

	_, err = run(t, "preview", "--config", cfgPath, "-o", outDir, "--axis", "z", scan)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(outDir, "slice_z_003.jpg"))
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pdfmri.yaml")

	_, err := run(t, "init-config", path)
	require.NoError(t, err)
	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Snapshot, cfg.Snapshot)

	_, err = run(t, "init-config", path)
	assert.Error(t, err)
	_, err = run(t, "init-config", "--force", path)
	assert.NoError(t, err)
}

func TestProvisionModelRejectsBadFeatureCount(t *testing.T) {
	dir, cfgPath := workspace(t)
	_, err := run(t, "provision-model", "--config", cfgPath, "--features", "-1")
	assert.ErrorContains(t, err, "at least one feature")
	assert.NoFileExists(t, filepath.Join(dir, "models", "pd_classifier.json"))
}

func TestInvalidConfigIsRejected(t *testing.T) {
	_, cfgPath := workspace(t)
	_, err := run(t, "provision-model", "--config", cfgPath, "--workers", "0")
	assert.ErrorContains(t, err, "numCores")
}
