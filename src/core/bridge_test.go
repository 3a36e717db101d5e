package core

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"testing"

	"facemesh-server-go/src/configs"
	"facemesh-server-go/src/core/detect"
	"facemesh-server-go/src/core/providers"
	"facemesh-server-go/src/core/types"
	"facemesh-server-go/src/core/utils"
)

type bridgeFaceEngine struct {
	faces []types.Face
}

func (e *bridgeFaceEngine) Initialize() error { return nil }
func (e *bridgeFaceEngine) Cleanup() error    { return nil }
func (e *bridgeFaceEngine) DetectFaces(ctx context.Context, img *image.NRGBA) ([]types.Face, error) {
	return e.faces, nil
}

type bridgeLandmarkEngine struct {
	found []types.FaceLandmarks
}

func (e *bridgeLandmarkEngine) Initialize() error { return nil }
func (e *bridgeLandmarkEngine) Cleanup() error    { return nil }
func (e *bridgeLandmarkEngine) DetectLandmarks(ctx context.Context, img *image.NRGBA) ([]types.FaceLandmarks, error) {
	return e.found, nil
}

func newTestBridge(t *testing.T) *Bridge {
	t.Helper()

	config := &configs.Config{}
	config.Log.LogDir = t.TempDir()
	config.Log.LogFile = "test.log"
	config.Log.LogLevel = "error"
	config.ApplyDefaults()

	logger, err := utils.NewLogger(config)
	if err != nil {
		t.Fatalf("创建测试日志器失败: %v", err)
	}
	t.Cleanup(func() { logger.Close() })

	detector := detect.NewServiceWithCreators(config, logger,
		"fake", func() (providers.Provider, error) {
			return &bridgeFaceEngine{faces: []types.Face{{Score: 0.8}}}, nil
		},
		"fake", func() (providers.Provider, error) {
			return &bridgeLandmarkEngine{found: []types.FaceLandmarks{
				{Points: []types.Point{{X: 0.1, Y: 0.2}}},
			}}, nil
		})

	return NewBridge(detector, logger)
}

func testImageBase64(t *testing.T) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.Gray{Y: 128})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("编码测试图片失败: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestBridgeGetVersion(t *testing.T) {
	bridge := newTestBridge(t)

	resp := bridge.Dispatch(context.Background(), []byte(`{"id":"req-1","method":"getVersion"}`))
	if !resp.Success {
		t.Fatalf("getVersion应成功: %+v", resp.Error)
	}
	if resp.ID != "req-1" {
		t.Errorf("响应ID = %s, 期望 req-1", resp.ID)
	}

	result, ok := resp.Result.(map[string]string)
	if !ok {
		t.Fatalf("结果类型不符: %T", resp.Result)
	}
	if result["version"] == "" {
		t.Error("版本号不应为空")
	}
}

func TestBridgeDetectFace(t *testing.T) {
	bridge := newTestBridge(t)

	payload := fmt.Sprintf(`{"id":"req-2","method":"detectFace","params":{"image":%q}}`, testImageBase64(t))
	resp := bridge.Dispatch(context.Background(), []byte(payload))
	if !resp.Success {
		t.Fatalf("detectFace应成功: %+v", resp.Error)
	}

	result, ok := resp.Result.(*types.DetectionResult)
	if !ok {
		t.Fatalf("结果类型不符: %T", resp.Result)
	}
	if result.FaceCount != 1 {
		t.Errorf("FaceCount = %d, 期望 1", result.FaceCount)
	}
	if result.ConfidencePercent != 80 {
		t.Errorf("ConfidencePercent = %v, 期望 80", result.ConfidencePercent)
	}
}

func TestBridgeDetectLandmarks(t *testing.T) {
	bridge := newTestBridge(t)

	payload := fmt.Sprintf(`{"id":"req-3","method":"detectLandmarks","params":{"image":%q}}`, testImageBase64(t))
	resp := bridge.Dispatch(context.Background(), []byte(payload))
	if !resp.Success {
		t.Fatalf("detectLandmarks应成功: %+v", resp.Error)
	}

	result, ok := resp.Result.(*types.DetectionResult)
	if !ok {
		t.Fatalf("结果类型不符: %T", resp.Result)
	}
	if result.ConfidencePercent != 100 {
		t.Errorf("ConfidencePercent = %v, 期望 100", result.ConfidencePercent)
	}
	if len(result.Landmarks) != 1 {
		t.Fatalf("关键点组数 = %d, 期望 1", len(result.Landmarks))
	}
}

func TestBridgeErrors(t *testing.T) {
	bridge := newTestBridge(t)

	tests := []struct {
		name     string
		payload  string
		wantCode string
	}{
		{
			name:     "非法JSON",
			payload:  `{not json`,
			wantCode: string(types.ErrCodeInvalidArgument),
		},
		{
			name:     "未知方法",
			payload:  `{"id":"x","method":"transcribeAudio"}`,
			wantCode: string(types.ErrCodeNotImplemented),
		},
		{
			name:     "缺少image参数",
			payload:  `{"id":"x","method":"detectFace","params":{}}`,
			wantCode: string(types.ErrCodeNoImage),
		},
		{
			name:     "非法base64",
			payload:  `{"id":"x","method":"detectFace","params":{"image":"!!!not-base64!!!"}}`,
			wantCode: string(types.ErrCodeInvalidImage),
		},
		{
			name:     "base64内容不是图片",
			payload:  fmt.Sprintf(`{"id":"x","method":"detectFace","params":{"image":%q}}`, base64.StdEncoding.EncodeToString([]byte("plain text"))),
			wantCode: string(types.ErrCodeInvalidImage),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := bridge.Dispatch(context.Background(), []byte(tt.payload))
			if resp.Success {
				t.Fatal("应返回失败响应")
			}
			if resp.Error == nil {
				t.Fatal("失败响应应包含错误结构")
			}
			if resp.Error.Code != tt.wantCode {
				t.Errorf("错误码 = %s, 期望 %s", resp.Error.Code, tt.wantCode)
			}
			if resp.ID == "" {
				t.Error("响应ID不应为空")
			}
		})
	}
}

func TestBridgeMissingIDGenerated(t *testing.T) {
	bridge := newTestBridge(t)

	resp := bridge.Dispatch(context.Background(), []byte(`{"method":"getVersion"}`))
	if !resp.Success {
		t.Fatalf("getVersion应成功: %+v", resp.Error)
	}
	if resp.ID == "" {
		t.Error("缺失的请求ID应自动生成")
	}
}

func TestBridgeResponseSerializable(t *testing.T) {
	bridge := newTestBridge(t)

	resp := bridge.Dispatch(context.Background(), []byte(`{"id":"x","method":"unknown"}`))
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("响应序列化失败: %v", err)
	}
	if !bytes.Contains(data, []byte("NOT_IMPLEMENTED")) {
		t.Errorf("序列化结果应包含错误码: %s", data)
	}
}
