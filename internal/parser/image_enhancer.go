package parser

import (
	"image"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"github.com/mdad-elec/cv-analysis-system/internal/logger"
)

// 预处理参数，针对扫描件的常见对比度固定取值
const (
	thresholdBlockSize = 21
	thresholdC         = 11
	denoiseH           = 10.0
	denoiseTemplate    = 7
	denoiseSearch      = 21
	dilateKernel       = 1
)

var sharpenKernel = [9]float64{
	0, -1, 0,
	-1, 5, -1,
	0, -1, 0,
}

// ImageEnhancer OCR 前的页面图像预处理
type ImageEnhancer struct {
	logger zerolog.Logger
}

// NewImageEnhancer 创建预处理器
func NewImageEnhancer() *ImageEnhancer {
	return &ImageEnhancer{logger: logger.Named("image_enhancer")}
}

// Enhance 灰度 → 自适应高斯阈值 → 非局部均值去噪 → 3x3 锐化 → 1x1 膨胀
// 纯函数，任何阶段出错时返回原图
func (e *ImageEnhancer) Enhance(img image.Image) (out image.Image) {
	if img == nil || img.Bounds().Empty() {
		return img
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Msg("图像预处理失败，使用原图")
			out = img
		}
	}()

	gray := toGray(imaging.Grayscale(img))
	binary := adaptiveGaussianThreshold(gray, thresholdBlockSize, thresholdC)
	denoised := nlMeansDenoise(binary, denoiseH, denoiseTemplate, denoiseSearch)
	sharpened := toGray(imaging.Convolve3x3(denoised, sharpenKernel, nil))
	return dilate(sharpened, dilateKernel)
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g
}

// gaussianKernel 与 OpenCV 在 sigma<=0 时的取值一致
func gaussianKernel(size int) []float64 {
	sigma := 0.3*(float64(size-1)*0.5-1) + 0.8
	k := make([]float64, size)
	half := size / 2
	var sum float64
	for i := range k {
		x := float64(i - half)
		k[i] = math.Exp(-(x * x) / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// adaptiveGaussianThreshold 像素大于邻域高斯加权均值减 c 时置 255，否则置 0
func adaptiveGaussianThreshold(src *image.Gray, blockSize int, c float64) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	k := gaussianKernel(blockSize)
	half := blockSize / 2

	// 可分离卷积，边界复制
	tmp := make([]float64, w*h)
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+w]
		for x := 0; x < w; x++ {
			var acc float64
			for i, kv := range k {
				acc += kv * float64(row[clampIndex(x+i-half, w)])
			}
			tmp[y*w+x] = acc
		}
	}

	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for i, kv := range k {
				acc += kv * tmp[clampIndex(y+i-half, h)*w+x]
			}
			mean := math.Round(acc)
			if float64(src.Pix[y*src.Stride+x]) > mean-c {
				dst.Pix[y*dst.Stride+x] = 255
			}
		}
	}
	return dst
}

func isBinary(img *image.Gray) bool {
	for _, v := range img.Pix {
		if v != 0 && v != 255 {
			return false
		}
	}
	return true
}

// nlMeansDenoise 非局部均值去噪，权重 exp(-d²/h²)，d² 为模板窗口内的均方差
// 二值输入时任何不同的模板块权重都不超过 exp(-255²/49/h²)，搜索窗口内累积偏差小于 0.5，取整后结果与输入相同
func nlMeansDenoise(src *image.Gray, h float64, template, search int) *image.Gray {
	if isBinary(src) {
		dst := image.NewGray(src.Rect)
		copy(dst.Pix, src.Pix)
		return dst
	}

	w, ht := src.Rect.Dx(), src.Rect.Dy()
	tHalf, sHalf := template/2, search/2
	area := float64(template * template)
	h2 := h * h

	at := func(x, y int) float64 {
		return float64(src.Pix[clampIndex(y, ht)*src.Stride+clampIndex(x, w)])
	}

	weights := make([]float64, w*ht)
	sums := make([]float64, w*ht)
	// 积分图，多出一行一列便于求和
	integral := make([]float64, (w+1)*(ht+1))

	for dy := -sHalf; dy <= sHalf; dy++ {
		for dx := -sHalf; dx <= sHalf; dx++ {
			for y := 0; y < ht; y++ {
				var rowSum float64
				for x := 0; x < w; x++ {
					d := at(x, y) - at(x+dx, y+dy)
					rowSum += d * d
					integral[(y+1)*(w+1)+x+1] = integral[y*(w+1)+x+1] + rowSum
				}
			}
			for y := 0; y < ht; y++ {
				y0, y1 := clampIndex(y-tHalf, ht), clampIndex(y+tHalf, ht)+1
				for x := 0; x < w; x++ {
					x0, x1 := clampIndex(x-tHalf, w), clampIndex(x+tHalf, w)+1
					dist := integral[y1*(w+1)+x1] - integral[y0*(w+1)+x1] - integral[y1*(w+1)+x0] + integral[y0*(w+1)+x0]
					weight := math.Exp(-(dist / area) / h2)
					weights[y*w+x] += weight
					sums[y*w+x] += weight * at(x+dx, y+dy)
				}
			}
		}
	}

	dst := image.NewGray(image.Rect(0, 0, w, ht))
	for i := range dst.Pix {
		dst.Pix[i] = uint8(math.Min(255, math.Max(0, math.Round(sums[i]/weights[i]))))
	}
	return dst
}

// dilate 以 size×size 的全 1 结构元素做一次膨胀
func dilate(src *image.Gray, size int) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	if size <= 1 {
		for y := 0; y < h; y++ {
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+w], src.Pix[y*src.Stride:y*src.Stride+w])
		}
		return dst
	}

	half := size / 2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var maxV uint8
			for ky := -half; ky <= half; ky++ {
				for kx := -half; kx <= half; kx++ {
					v := src.Pix[clampIndex(y+ky, h)*src.Stride+clampIndex(x+kx, w)]
					if v > maxV {
						maxV = v
					}
				}
			}
			dst.Pix[y*dst.Stride+x] = maxV
		}
	}
	return dst
}
