package optimization

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestReturnRange(t *testing.T) {
	lo, hi := ReturnRange(threeAssetStats(t))
	assert.Equal(t, 0.0008, lo)
	assert.Equal(t, 0.0015, hi)
}

func TestValidateTarget(t *testing.T) {
	cm := NewConstraintsManager(zerolog.Nop())
	stats := threeAssetStats(t)

	tests := []struct {
		name    string
		target  *float64
		wantErr bool
	}{
		{"no target", nil, false},
		{"inside range", float64Ptr(0.0011), false},
		{"at max", float64Ptr(0.0015), false},
		{"at min", float64Ptr(0.0008), false},
		{"above max", float64Ptr(0.0016), true},
		{"below min", float64Ptr(0.0007), true},
		{"nan", float64Ptr(math.NaN()), true},
		{"inf", float64Ptr(math.Inf(1)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := cm.ValidateTarget(stats, tt.target)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInfeasibleConstraints)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestGetConstraintSummary(t *testing.T) {
	cm := NewConstraintsManager(zerolog.Nop())
	target := 0.001

	summary := cm.GetConstraintSummary(threeAssetStats(t), &target)
	assert.Equal(t, 3, summary.Assets)
	assert.Equal(t, 0.0008, summary.MinReturn)
	assert.Equal(t, 0.0015, summary.MaxReturn)
	assert.Equal(t, &target, summary.TargetReturn)
}
