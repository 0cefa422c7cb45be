package units_test

import (
	"testing"

	"github.com/Cogwheel-Validator/spectra-stable-router/engine/units"
	"github.com/holiman/uint256"
	"github.com/zeebo/assert"
)

func TestConvert_RoundTrip6To18(t *testing.T) {
	amounts := []string{"0", "1", "100000000", "123456789012", "18446744073709551615"}
	for _, a := range amounts {
		original := units.MustParse(a)

		scaled, err := units.Convert(original, 6, 18)
		assert.NoError(t, err)
		back, err := units.Convert(scaled, 18, 6)
		assert.NoError(t, err)

		assert.Equal(t, back.Dec(), original.Dec())
	}
}

func TestConvert_ScalingDownTruncates(t *testing.T) {
	out, err := units.Convert(units.MustParse("1999999999999"), 18, 6)
	assert.NoError(t, err)
	assert.Equal(t, out.Dec(), "1")

	out, err = units.Convert(units.FromWhole(100, 18), 18, 6)
	assert.NoError(t, err)
	assert.Equal(t, out.Dec(), "100000000")
}

func TestConvert_Overflow(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	_, err := units.Convert(max, 6, 18)
	assert.Error(t, err)
}

func TestApplyBps_ProtocolFee(t *testing.T) {
	fee, err := units.ApplyBps(units.FromWhole(100, 6), 10)
	assert.NoError(t, err)
	assert.Equal(t, fee.Dec(), "100000")

	fee, err = units.ApplyBps(units.MustParse("999"), 10)
	assert.NoError(t, err)
	assert.Equal(t, fee.Dec(), "0")
}

func TestMinOutput(t *testing.T) {
	min, err := units.MinOutput(units.MustParse("1000000"), 100)
	assert.NoError(t, err)
	assert.Equal(t, min.Dec(), "990000")

	_, err = units.MinOutput(units.MustParse("1000000"), 10001)
	assert.Error(t, err)
}

func TestParseAndFormat(t *testing.T) {
	_, err := units.Parse("")
	assert.Error(t, err)
	_, err = units.Parse("-5")
	assert.Error(t, err)
	_, err = units.Parse("12abc")
	assert.Error(t, err)

	assert.Equal(t, units.Format(units.MustParse("99900000"), 6), "99.9")
	assert.Equal(t, units.Format(units.FromWhole(5, 18), 18), "5")
	assert.Equal(t, units.String(nil), "0")
}
