package types

import (
	"errors"
	"fmt"
)

// ErrorCode 对外暴露的稳定错误码
type ErrorCode string

const (
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT" // 请求缺少参数或参数格式错误
	ErrCodeNoImage         ErrorCode = "NO_IMAGE"         // 图片数据为空
	ErrCodeInvalidImage    ErrorCode = "INVALID_IMAGE"    // 图片无法解码
	ErrCodeImageTooLarge   ErrorCode = "IMAGE_TOO_LARGE"  // 图片尺寸超过上限
	ErrCodeBusy            ErrorCode = "BUSY"             // 同能力的上一次调用尚未返回
	ErrCodeInitFailed      ErrorCode = "INIT_ERROR"       // 引擎加载失败
	ErrCodeDetectionFailed ErrorCode = "DETECTION_FAILED" // 引擎调用没有产生结果
	ErrCodeNativeFault     ErrorCode = "NATIVE_FAULT"     // 引擎层不可恢复故障
	ErrCodeNotImplemented  ErrorCode = "NOT_IMPLEMENTED"  // 未知操作
)

// DetectError 带稳定错误码的检测错误，在边界处序列化给调用方
type DetectError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *DetectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *DetectError) Unwrap() error {
	return e.Err
}

// NewDetectError 创建检测错误
func NewDetectError(code ErrorCode, message string) *DetectError {
	return &DetectError{Code: code, Message: message}
}

// WrapDetectError 包装底层错误
func WrapDetectError(code ErrorCode, message string, err error) *DetectError {
	return &DetectError{Code: code, Message: message, Err: err}
}

// CodeOf 提取错误码，非DetectError一律视为检测失败
func CodeOf(err error) ErrorCode {
	var de *DetectError
	if errors.As(err, &de) {
		return de.Code
	}
	return ErrCodeDetectionFailed
}

// FatalError 引擎层不可恢复故障的标记。
// 只有这一类故障会触发缓存失效，普通检测失败不会。
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("引擎不可恢复故障: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatalError 标记一个不可恢复的引擎故障
func NewFatalError(err error) *FatalError {
	return &FatalError{Err: err}
}

// IsFatal 判断错误链中是否包含不可恢复故障
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
