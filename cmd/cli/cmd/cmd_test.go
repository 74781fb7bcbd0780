package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--no-color"))
	t.Cleanup(func() {
		asJSON = false
		quoteAPI = false
		quoteCycle = "monthly"
		vehiclePack = false
		tariffForce = false
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestQuoteJSON(t *testing.T) {
	out, err := run(t, "quote", "10", "--api", "--json")
	require.NoError(t, err)

	var res map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "13.75", res["amount"])
	assert.Equal(t, "growth", res["plan"])
}

func TestQuoteYearly(t *testing.T) {
	out, err := run(t, "quote", "250", "--cycle", "yearly", "--json")
	require.NoError(t, err)

	var res map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Contains(t, out, `"1188`)
	assert.NotNil(t, res["amount"])
}

func TestQuoteSummary(t *testing.T) {
	out, err := run(t, "quote", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "starter")
}

func TestQuoteRejectsBadInput(t *testing.T) {
	_, err := run(t, "quote", "ten")
	assert.Error(t, err)

	_, err = run(t, "quote", "10", "--cycle", "weekly")
	assert.Error(t, err)
}

func TestPlansForVehicles(t *testing.T) {
	out, err := run(t, "plans", "30", "--json")
	require.NoError(t, err)

	var plans []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &plans))
	require.Len(t, plans, 1)
	assert.Equal(t, "pro", plans[0]["id"])
}

func TestTariffTable(t *testing.T) {
	out, err := run(t, "tariff")
	require.NoError(t, err)
	assert.Contains(t, out, "enterprise")
	assert.Contains(t, out, "yearly billing")
}

func TestVehicleRoundTrip(t *testing.T) {
	out, err := run(t, "vehicle", "https://cars.example/ad/1", "--pack", "--make", "Ford", "--year", "2019")
	require.NoError(t, err)
	assert.Contains(t, out, "make=Ford")
	assert.Contains(t, out, "year=2019")
}

func TestVehicleRange(t *testing.T) {
	assert.Equal(t, "1", vehicleRange(1, 1))
	assert.Equal(t, "2-5", vehicleRange(2, 5))
	assert.Equal(t, "1001+", vehicleRange(1001, 0))
}

func TestTariffExportThenCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tariff.hcl")

	out, err := run(t, "tariff", "export", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote")

	_, err = run(t, "tariff", "export", path)
	assert.Error(t, err)

	out, err = run(t, "tariff", "check", path)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")
	assert.Contains(t, out, "fleet")
}

func TestTariffCheckRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.hcl")
	require.NoError(t, os.WriteFile(path, []byte("currency = "), 0644))

	_, err := run(t, "tariff", "check", path)
	assert.Error(t, err)
}
