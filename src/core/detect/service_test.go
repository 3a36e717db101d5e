package detect

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"facemesh-server-go/src/configs"
	"facemesh-server-go/src/core/providers"
	"facemesh-server-go/src/core/types"
	"facemesh-server-go/src/core/utils"
)

func newTestConfig() *configs.Config {
	config := &configs.Config{}
	config.ApplyDefaults()
	return config
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.Gray{Y: uint8((x + y) % 256)})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("生成测试图片失败: %v", err)
	}
	return buf.Bytes()
}

// fakeFaceEngine 可注入行为的人脸检测引擎
type fakeFaceEngine struct {
	detect func(ctx context.Context, img *image.NRGBA) ([]types.Face, error)
}

func (f *fakeFaceEngine) Initialize() error { return nil }
func (f *fakeFaceEngine) Cleanup() error    { return nil }
func (f *fakeFaceEngine) DetectFaces(ctx context.Context, img *image.NRGBA) ([]types.Face, error) {
	return f.detect(ctx, img)
}

// fakeLandmarkEngine 可注入行为的关键点引擎
type fakeLandmarkEngine struct {
	detect func(ctx context.Context, img *image.NRGBA) ([]types.FaceLandmarks, error)
}

func (f *fakeLandmarkEngine) Initialize() error { return nil }
func (f *fakeLandmarkEngine) Cleanup() error    { return nil }
func (f *fakeLandmarkEngine) DetectLandmarks(ctx context.Context, img *image.NRGBA) ([]types.FaceLandmarks, error) {
	return f.detect(ctx, img)
}

func newTestService(t *testing.T, logger *utils.Logger, face *fakeFaceEngine, lm *fakeLandmarkEngine) *Service {
	t.Helper()

	if face == nil {
		face = &fakeFaceEngine{
			detect: func(ctx context.Context, img *image.NRGBA) ([]types.Face, error) {
				return nil, nil
			},
		}
	}
	if lm == nil {
		lm = &fakeLandmarkEngine{
			detect: func(ctx context.Context, img *image.NRGBA) ([]types.FaceLandmarks, error) {
				return nil, nil
			},
		}
	}

	return NewServiceWithCreators(newTestConfig(), logger,
		"fake", func() (providers.Provider, error) { return face, nil },
		"fake", func() (providers.Provider, error) { return lm, nil })
}

func TestServiceGetVersion(t *testing.T) {
	service := newTestService(t, newTestLogger(t), nil, nil)
	if got := service.GetVersion(); got != Version {
		t.Errorf("GetVersion = %s, 期望 %s", got, Version)
	}
}

func TestServiceInputValidation(t *testing.T) {
	logger := newTestLogger(t)

	tests := []struct {
		name     string
		input    []byte
		wantCode types.ErrorCode
	}{
		{
			name:     "空输入",
			input:    nil,
			wantCode: types.ErrCodeNoImage,
		},
		{
			name:     "非图片字节",
			input:    []byte("这不是一张图片"),
			wantCode: types.ErrCodeInvalidImage,
		},
		{
			name:     "超过宽度上限",
			input:    pngBytes(t, 4097, 1),
			wantCode: types.ErrCodeImageTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := newTestService(t, logger, nil, nil)
			_, err := service.DetectFace(context.Background(), tt.input)
			if err == nil {
				t.Fatal("应返回错误")
			}
			if code := types.CodeOf(err); code != tt.wantCode {
				t.Errorf("错误码 = %s, 期望 %s", code, tt.wantCode)
			}

			// 两个能力共用同一套输入校验
			_, err = service.DetectLandmarks(context.Background(), tt.input)
			if err == nil {
				t.Fatal("关键点能力也应返回错误")
			}
			if code := types.CodeOf(err); code != tt.wantCode {
				t.Errorf("关键点错误码 = %s, 期望 %s", code, tt.wantCode)
			}

			// 坏输入在解码阶段即被拒绝，绝不触发引擎构造
			if got := service.FaceCreations(); got != 0 {
				t.Errorf("坏输入不应构造人脸引擎, 构造次数%d", got)
			}
			if got := service.LandmarkCreations(); got != 0 {
				t.Errorf("坏输入不应构造关键点引擎, 构造次数%d", got)
			}
		})
	}
}

func TestServiceBusyRejection(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	// 只有首次调用阻塞在引擎里，后续调用直接返回
	var enterOnce, releaseOnce sync.Once
	face := &fakeFaceEngine{
		detect: func(ctx context.Context, img *image.NRGBA) ([]types.Face, error) {
			blocked := false
			enterOnce.Do(func() {
				blocked = true
				close(entered)
			})
			if blocked {
				<-release
			}
			return nil, nil
		},
	}
	defer releaseOnce.Do(func() { close(release) })
	service := newTestService(t, newTestLogger(t), face, nil)
	input := pngBytes(t, 32, 32)

	done := make(chan error, 1)
	go func() {
		_, err := service.DetectFace(context.Background(), input)
		done <- err
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("首个请求未进入引擎")
	}

	// 引擎执行期间的并发请求立即拒绝，不排队
	_, err := service.DetectFace(context.Background(), input)
	if err == nil {
		t.Fatal("并发请求应被拒绝")
	}
	if code := types.CodeOf(err); code != types.ErrCodeBusy {
		t.Errorf("错误码 = %s, 期望 %s", code, types.ErrCodeBusy)
	}

	// 两个能力的闸门相互独立
	if _, err := service.DetectLandmarks(context.Background(), input); err != nil {
		t.Errorf("关键点能力不应受人脸闸门影响: %v", err)
	}

	// 输入校验在闸门之前，坏输入在忙碌期间也返回输入类错误
	_, err = service.DetectFace(context.Background(), []byte("不是图片"))
	if code := types.CodeOf(err); code != types.ErrCodeInvalidImage {
		t.Errorf("忙碌期间的坏输入错误码 = %s, 期望 %s", code, types.ErrCodeInvalidImage)
	}

	releaseOnce.Do(func() { close(release) })
	if err := <-done; err != nil {
		t.Errorf("首个请求应正常完成: %v", err)
	}

	// 闸门释放后能力恢复可用
	if _, err := service.DetectFace(context.Background(), input); err != nil {
		t.Errorf("闸门释放后请求应成功: %v", err)
	}
}

func TestServiceEngineReuse(t *testing.T) {
	service := newTestService(t, newTestLogger(t), nil, nil)
	input := pngBytes(t, 32, 32)

	for i := 0; i < 3; i++ {
		if _, err := service.DetectFace(context.Background(), input); err != nil {
			t.Fatalf("第%d次检测失败: %v", i+1, err)
		}
	}

	if got := service.FaceCreations(); got != 1 {
		t.Errorf("连续调用应复用引擎, 构造次数%d", got)
	}
}

func TestServiceNativeFaultInvalidatesEngine(t *testing.T) {
	faulty := true
	face := &fakeFaceEngine{
		detect: func(ctx context.Context, img *image.NRGBA) ([]types.Face, error) {
			if faulty {
				return nil, types.NewFatalError(errors.New("级联执行panic"))
			}
			return []types.Face{{Score: 0.9}}, nil
		},
	}
	service := newTestService(t, newTestLogger(t), face, nil)
	input := pngBytes(t, 32, 32)

	_, err := service.DetectFace(context.Background(), input)
	if err == nil {
		t.Fatal("不可恢复故障应返回错误")
	}
	if code := types.CodeOf(err); code != types.ErrCodeNativeFault {
		t.Errorf("错误码 = %s, 期望 %s", code, types.ErrCodeNativeFault)
	}

	// 故障后下一次请求重新构造引擎并成功
	faulty = false
	result, err := service.DetectFace(context.Background(), input)
	if err != nil {
		t.Fatalf("故障恢复后的请求应成功: %v", err)
	}
	if result.FaceCount != 1 {
		t.Errorf("FaceCount = %d, 期望 1", result.FaceCount)
	}
	if got := service.FaceCreations(); got != 2 {
		t.Errorf("故障后应重新构造引擎, 构造次数%d", got)
	}
}

func TestServiceDetectionFailed(t *testing.T) {
	face := &fakeFaceEngine{
		detect: func(ctx context.Context, img *image.NRGBA) ([]types.Face, error) {
			return nil, errors.New("推理超时")
		},
	}
	service := newTestService(t, newTestLogger(t), face, nil)

	_, err := service.DetectFace(context.Background(), pngBytes(t, 32, 32))
	if err == nil {
		t.Fatal("应返回错误")
	}
	if code := types.CodeOf(err); code != types.ErrCodeDetectionFailed {
		t.Errorf("错误码 = %s, 期望 %s", code, types.ErrCodeDetectionFailed)
	}

	// 普通失败不触发缓存失效
	if _, err := service.DetectLandmarks(context.Background(), pngBytes(t, 32, 32)); err != nil {
		t.Fatalf("关键点请求失败: %v", err)
	}
	face.detect = func(ctx context.Context, img *image.NRGBA) ([]types.Face, error) {
		return nil, nil
	}
	if _, err := service.DetectFace(context.Background(), pngBytes(t, 32, 32)); err != nil {
		t.Fatalf("后续请求失败: %v", err)
	}
	if got := service.FaceCreations(); got != 1 {
		t.Errorf("普通失败不应重建引擎, 构造次数%d", got)
	}
}

func TestServiceLandmarkResult(t *testing.T) {
	lm := &fakeLandmarkEngine{
		detect: func(ctx context.Context, img *image.NRGBA) ([]types.FaceLandmarks, error) {
			return []types.FaceLandmarks{
				{Points: []types.Point{{X: 0.25, Y: 0.5}}},
			}, nil
		},
	}
	service := newTestService(t, newTestLogger(t), nil, lm)

	result, err := service.DetectLandmarks(context.Background(), pngBytes(t, 32, 32))
	if err != nil {
		t.Fatalf("检测失败: %v", err)
	}

	if result.ConfidencePercent != 100 {
		t.Errorf("检出人脸时置信度应为100, 实际%v", result.ConfidencePercent)
	}
	if len(result.Landmarks) != 1 || len(result.Landmarks[0]) != 1 {
		t.Fatalf("关键点结构不符: %v", result.Landmarks)
	}
	pt := result.Landmarks[0][0]
	if pt[0] != 0.25 || pt[1] != 0.5 || pt[2] != 0 {
		t.Errorf("关键点三元组 = %v, 期望 [0.25 0.5 0]", pt)
	}
}

func TestServiceInitErrorNotSticky(t *testing.T) {
	attempts := 0
	service := NewServiceWithCreators(newTestConfig(), newTestLogger(t),
		"fake", func() (providers.Provider, error) {
			attempts++
			if attempts == 1 {
				return nil, errors.New("模型文件缺失")
			}
			return &fakeFaceEngine{
				detect: func(ctx context.Context, img *image.NRGBA) ([]types.Face, error) {
					return nil, nil
				},
			}, nil
		},
		"fake", func() (providers.Provider, error) {
			return &fakeLandmarkEngine{
				detect: func(ctx context.Context, img *image.NRGBA) ([]types.FaceLandmarks, error) {
					return nil, nil
				},
			}, nil
		})

	input := pngBytes(t, 32, 32)
	_, err := service.DetectFace(context.Background(), input)
	if err == nil {
		t.Fatal("首次构造失败应返回错误")
	}
	if code := types.CodeOf(err); code != types.ErrCodeInitFailed {
		t.Errorf("错误码 = %s, 期望 %s", code, types.ErrCodeInitFailed)
	}

	if _, err := service.DetectFace(context.Background(), input); err != nil {
		t.Errorf("构造失败不应粘滞, 重试应成功: %v", err)
	}
}
