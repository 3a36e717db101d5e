package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{
			name: "直接的检测错误",
			err:  NewDetectError(ErrCodeBusy, "忙"),
			want: ErrCodeBusy,
		},
		{
			name: "包装后的检测错误",
			err:  fmt.Errorf("外层: %w", NewDetectError(ErrCodeImageTooLarge, "超限")),
			want: ErrCodeImageTooLarge,
		},
		{
			name: "普通错误归为检测失败",
			err:  errors.New("其他错误"),
			want: ErrCodeDetectionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf = %s, 期望 %s", got, tt.want)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	fatal := NewFatalError(errors.New("引擎panic"))

	if !IsFatal(fatal) {
		t.Error("FatalError应被识别为不可恢复故障")
	}
	if !IsFatal(fmt.Errorf("包装: %w", fatal)) {
		t.Error("错误链中的FatalError也应被识别")
	}
	if IsFatal(errors.New("普通错误")) {
		t.Error("普通错误不应被识别为不可恢复故障")
	}
	if IsFatal(NewDetectError(ErrCodeDetectionFailed, "失败")) {
		t.Error("检测失败不应被识别为不可恢复故障")
	}
}

func TestDetectErrorUnwrap(t *testing.T) {
	inner := errors.New("底层原因")
	wrapped := WrapDetectError(ErrCodeInitFailed, "加载失败", inner)

	if !errors.Is(wrapped, inner) {
		t.Error("包装错误应保留底层错误链")
	}
	if wrapped.Error() == "" {
		t.Error("错误文本不应为空")
	}
}
