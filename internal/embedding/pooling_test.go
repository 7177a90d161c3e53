package embedding

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeanPoolMaskedAverage(t *testing.T) {
	// 1个样本、3个位置、2维，末位被mask
	hidden := []float32{
		1, 2,
		3, 4,
		100, 100,
	}
	masks := []int64{1, 1, 0}

	out := meanPool(hidden, masks, 1, 3, 2)
	require.Len(t, out, 1)
	assert.InDelta(t, 2.0, out[0][0], 1e-6)
	assert.InDelta(t, 3.0, out[0][1], 1e-6)
}

func TestMeanPoolAllMaskedIsZero(t *testing.T) {
	hidden := []float32{5, 5, 5, 5}
	masks := []int64{0, 0}

	out := meanPool(hidden, masks, 1, 2, 2)
	assert.Equal(t, []float32{0, 0}, out[0])
}

func TestMeanPoolBatch(t *testing.T) {
	// 2个样本各2个位置、1维
	hidden := []float32{1, 3, 10, 20}
	masks := []int64{1, 1, 1, 0}

	out := meanPool(hidden, masks, 2, 2, 1)
	require.Len(t, out, 2)
	assert.InDelta(t, 2.0, out[0][0], 1e-6)
	assert.InDelta(t, 10.0, out[1][0], 1e-6)
}

func TestFloat16Conversion(t *testing.T) {
	cases := []struct {
		bits uint16
		want float32
	}{
		{0x0000, 0},
		{0x3c00, 1},
		{0xbc00, -1},
		{0x4000, 2},
		{0x3800, 0.5},
		{0x0001, 5.9604645e-8}, // 最小次正规数
	}
	for _, c := range cases {
		assert.InDelta(t, float64(c.want), float64(float16ToFloat32(c.bits)), 1e-12)
	}
}

func TestFloat16Infinity(t *testing.T) {
	assert.True(t, math.IsInf(float64(float16ToFloat32(0x7c00)), 1))
	assert.True(t, math.IsInf(float64(float16ToFloat32(0xfc00)), -1))
}

func TestWidenFloat16LittleEndian(t *testing.T) {
	// 0x3c00 = 1.0, 0x4000 = 2.0
	raw := []byte{0x00, 0x3c, 0x00, 0x40}
	out := widenFloat16(raw)
	require.Len(t, out, 2)
	assert.Equal(t, float32(1), out[0])
	assert.Equal(t, float32(2), out[1])
}

func TestDequantizeUint8(t *testing.T) {
	raw := []byte{128, 130, 126}
	out := dequantizeUint8(raw, 0.5, 128)
	assert.Equal(t, []float32{0, 1, -1}, out)
}
