package risk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadProfiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "risk.yaml")
	body := `default: swing
profiles:
  - name: scalp
    risk_percent: 0.5
    reward_to_risk_ratio: 1.5
  - name: swing
    risk_percent: 2
    reward_to_risk_ratio: 3
    partial_close: true
    close_ratio: 30
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	profiles, def, err := LoadProfiles(path)
	require.NoError(t, err)
	assert.Len(t, profiles, 2)
	assert.Equal(t, 0.5, profiles["scalp"].RiskPercent)
	assert.Equal(t, 50.0, profiles["scalp"].CloseRatio, "unset fields use defaults")
	assert.Equal(t, RiskConfig{RiskPercent: 2, RewardToRiskRatio: 3, PartialClose: true, CloseRatio: 30}, def)
}

func TestLoadProfilesUnknownDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "risk.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default: nope\nprofiles: []\n"), 0o600))
	_, def, err := LoadProfiles(path)
	assert.Error(t, err)
	assert.Equal(t, DefaultConfig(), def)
}
