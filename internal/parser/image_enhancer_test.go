package parser

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scannedPage 浅灰背景上的一块深色"文字"，带少量噪点
func scannedPage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 60, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 60; x++ {
			v := uint8(200)
			if x >= 20 && x < 40 && y >= 15 && y < 25 {
				v = 40
			}
			if (x*7+y*13)%29 == 0 {
				v -= 15
			}
			img.Set(x, y, color.RGBA{R: v, G: v, B: v + 10, A: 255})
		}
	}
	return img
}

func TestImageEnhancer_ProducesBinaryGray(t *testing.T) {
	src := scannedPage()
	out := NewImageEnhancer().Enhance(src)

	gray, ok := out.(*image.Gray)
	require.True(t, ok, "输出应为灰度图")
	assert.Equal(t, src.Bounds().Dx(), gray.Bounds().Dx())
	assert.Equal(t, src.Bounds().Dy(), gray.Bounds().Dy())
	for _, v := range gray.Pix {
		require.True(t, v == 0 || v == 255, "像素值应为 0 或 255，实际 %d", v)
	}

	// 深色块的边缘应被阈值化为黑色
	assert.Equal(t, uint8(0), gray.GrayAt(20, 20).Y)
	assert.Equal(t, uint8(255), gray.GrayAt(2, 2).Y)
}

func TestImageEnhancer_Deterministic(t *testing.T) {
	e := NewImageEnhancer()
	a := e.Enhance(scannedPage()).(*image.Gray)
	b := e.Enhance(scannedPage()).(*image.Gray)
	assert.Equal(t, a.Pix, b.Pix)
}

func TestImageEnhancer_EmptyAndNil(t *testing.T) {
	e := NewImageEnhancer()
	assert.Nil(t, e.Enhance(nil))

	empty := image.NewGray(image.Rect(0, 0, 0, 0))
	assert.Same(t, empty, e.Enhance(empty))
}

func TestNLMeansDenoise_SmoothsIsolatedNoise(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 9, 9))
	for i := range src.Pix {
		src.Pix[i] = 100
	}
	src.SetGray(4, 4, color.Gray{Y: 110})

	out := nlMeansDenoise(src, denoiseH, 3, 5)
	assert.Less(t, out.GrayAt(4, 4).Y, uint8(110))
	assert.GreaterOrEqual(t, out.GrayAt(4, 4).Y, uint8(100))
}

func TestDilate(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 3, 3))
	src.SetGray(1, 1, color.Gray{Y: 255})

	same := dilate(src, 1)
	assert.Equal(t, src.Pix, same.Pix)

	grown := dilate(src, 3)
	for _, v := range grown.Pix {
		assert.Equal(t, uint8(255), v)
	}
}
