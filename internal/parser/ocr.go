package parser

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"github.com/mdad-elec/cv-analysis-system/internal/logger"
)

// PageRenderer 将页式文档渲染为有序的页面图像
type PageRenderer interface {
	Render(ctx context.Context, data []byte, dpi int) ([]image.Image, error)
}

// OCREngine 识别单张图像中的文字
type OCREngine interface {
	Recognize(ctx context.Context, img image.Image) (string, error)
}

// Runner 执行外部命令，测试中可替换
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct {
	logger zerolog.Logger
}

func (r execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("cmd", name).
			Str("args", strings.Join(args, " ")).
			Dur("elapsed", time.Since(start)).
			Str("stderr", truncate(errb.String(), 8<<10)).
			Msg("外部命令执行失败")
	} else {
		r.logger.Debug().
			Str("cmd", name).
			Dur("elapsed", time.Since(start)).
			Int("stdout_bytes", out.Len()).
			Msg("外部命令执行完成")
	}
	return out.Bytes(), errb.Bytes(), err
}

// NewExecRunner 基于 os/exec 的 Runner
func NewExecRunner() Runner {
	return execRunner{logger: logger.Named("exec")}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}

// PdftoppmRenderer 使用 poppler 的 pdftoppm 渲染 PDF 页面
type PdftoppmRenderer struct {
	runner Runner
	binary string
}

// NewPdftoppmRenderer 创建渲染器，binary 为空时使用 PATH 中的 pdftoppm
func NewPdftoppmRenderer(runner Runner, binary string) *PdftoppmRenderer {
	if binary == "" {
		binary = "pdftoppm"
	}
	if runner == nil {
		runner = NewExecRunner()
	}
	return &PdftoppmRenderer{runner: runner, binary: binary}
}

// Render 实现 PageRenderer
func (r *PdftoppmRenderer) Render(ctx context.Context, data []byte, dpi int) ([]image.Image, error) {
	tmpDir, err := os.MkdirTemp("", "cv-render-*")
	if err != nil {
		return nil, fmt.Errorf("创建临时目录失败: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	input := filepath.Join(tmpDir, "input.pdf")
	if err := os.WriteFile(input, data, 0o600); err != nil {
		return nil, fmt.Errorf("写入临时文件失败: %w", err)
	}

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r 300 -png <in.pdf> <tmp/page>
	if _, errb, err := r.runner.Run(ctx, r.binary, "-r", strconv.Itoa(dpi), "-png", input, prefix); err != nil {
		return nil, fmt.Errorf("pdftoppm 渲染失败: %w: %s", err, truncate(string(errb), 512))
	}

	matches, _ := filepath.Glob(prefix + "-*.png")
	if len(matches) == 0 {
		return nil, fmt.Errorf("pdftoppm 未生成任何页面")
	}
	sortPagePaths(matches)

	images := make([]image.Image, 0, len(matches))
	for _, path := range matches {
		img, err := imaging.Open(path)
		if err != nil {
			return nil, fmt.Errorf("读取页面图像 %s 失败: %w", filepath.Base(path), err)
		}
		images = append(images, img)
	}
	return images, nil
}

// sortPagePaths 按页码数值排序（page-2 在 page-10 之前）
func sortPagePaths(paths []string) {
	pageNum := func(p string) int {
		base := strings.TrimSuffix(filepath.Base(p), ".png")
		n, _ := strconv.Atoi(base[strings.LastIndex(base, "-")+1:])
		return n
	}
	sort.SliceStable(paths, func(i, j int) bool { return pageNum(paths[i]) < pageNum(paths[j]) })
}

// TesseractEngine 调用 tesseract 命令行识别文字
type TesseractEngine struct {
	runner    Runner
	binary    string
	psm       int
	oem       int
	languages string
}

// NewTesseractEngine 默认参数 --psm 6 --oem 3 -l eng+osd
func NewTesseractEngine(runner Runner, binary string, psm, oem int, languages string) *TesseractEngine {
	if binary == "" {
		binary = "tesseract"
	}
	if runner == nil {
		runner = NewExecRunner()
	}
	if languages == "" {
		languages = "eng+osd"
	}
	return &TesseractEngine{runner: runner, binary: binary, psm: psm, oem: oem, languages: languages}
}

// Args 返回识别 path 时的命令行参数
func (t *TesseractEngine) Args(path string) []string {
	return []string{path, "stdout",
		"--psm", strconv.Itoa(t.psm),
		"--oem", strconv.Itoa(t.oem),
		"-l", t.languages,
	}
}

// Recognize 实现 OCREngine
func (t *TesseractEngine) Recognize(ctx context.Context, img image.Image) (string, error) {
	f, err := os.CreateTemp("", "cv-ocr-*.png")
	if err != nil {
		return "", fmt.Errorf("创建临时文件失败: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if err := imaging.Encode(f, img, imaging.PNG); err != nil {
		f.Close()
		return "", fmt.Errorf("编码页面图像失败: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	out, errb, err := t.runner.Run(ctx, t.binary, t.Args(path)...)
	if err != nil {
		return "", fmt.Errorf("tesseract 识别失败: %w: %s", err, truncate(string(errb), 512))
	}
	return string(out), nil
}
