package xerr

import (
	"errors"
	"fmt"
	"net/http"

	goerrors "github.com/go-errors/errors"
)

// 常用错误码定义
const (
	OK                 = 200
	RequestParamsError = 400 // 参数/校验错误 (ValidationError)
	Unauthorized       = 401
	Forbidden          = 403
	RecordNotFound     = 404
	StateConflict      = 409 // 并发冲突，可重试
	ConfigurationError = 422 // 钱包根/链配置不可用
	ServerCommonError  = 500
	DbError            = 501
	UpstreamError      = 502 // 链上数据源不可达或返回异常

	EncodingError = 1001 // 公钥/地址编码失败
	DuplicateNoOp = 1002 // 去重命中，不是真正的错误
)

type CodeError struct {
	Code  int    `json:"code"`
	Msg   string `json:"msg"`
	cause error
	stack *goerrors.Error
}

func (e *CodeError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("ErrCode:%d, Msg:%s, Cause:%v", e.Code, e.Msg, e.cause)
	}
	return fmt.Sprintf("ErrCode:%d, Msg:%s", e.Code, e.Msg)
}

func (e *CodeError) Unwrap() error { return e.cause }

// Stack 返回创建错误时的调用栈，用于日志
func (e *CodeError) Stack() string {
	if e.stack == nil {
		return ""
	}
	return string(e.stack.Stack())
}

func New(code int, msg string) error {
	return &CodeError{Code: code, Msg: msg, stack: goerrors.Wrap(msg, 1)}
}

func Newf(code int, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return &CodeError{Code: code, Msg: msg, stack: goerrors.Wrap(msg, 1)}
}

func NewErrCode(code int) error {
	msg := MapErrMsg(code)
	return &CodeError{Code: code, Msg: msg, stack: goerrors.Wrap(msg, 1)}
}

// Wrap 包装底层错误，保留 cause 以便 errors.Is/As
func Wrap(code int, msg string, cause error) error {
	if cause == nil {
		return nil
	}
	return &CodeError{Code: code, Msg: msg, cause: cause, stack: goerrors.Wrap(cause, 1)}
}

// As 从错误链中取出 CodeError
func As(err error) (*CodeError, bool) {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// CodeOf 非业务错误统一归为 ServerCommonError
func CodeOf(err error) int {
	if err == nil {
		return OK
	}
	if ce, ok := As(err); ok {
		return ce.Code
	}
	return ServerCommonError
}

func IsCode(err error, code int) bool {
	ce, ok := As(err)
	return ok && ce.Code == code
}

// Retryable 调用方可以直接重试的错误
func Retryable(err error) bool {
	switch CodeOf(err) {
	case StateConflict, UpstreamError:
		return true
	}
	return false
}

// HTTPStatus 业务码映射到 HTTP 状态码
func HTTPStatus(code int) int {
	switch code {
	case OK:
		return http.StatusOK
	case RequestParamsError, EncodingError:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case RecordNotFound:
		return http.StatusNotFound
	case StateConflict:
		return http.StatusConflict
	case ConfigurationError:
		return http.StatusUnprocessableEntity
	case UpstreamError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func MapErrMsg(code int) string {
	switch code {
	case ServerCommonError:
		return "服务器开小差了"
	case RequestParamsError:
		return "参数错误"
	case Unauthorized:
		return "未认证"
	case Forbidden:
		return "无权限"
	case DbError:
		return "数据库繁忙"
	case RecordNotFound:
		return "记录不存在"
	case StateConflict:
		return "并发冲突，请重试"
	case ConfigurationError:
		return "钱包配置不可用"
	case UpstreamError:
		return "链上数据源异常"
	case EncodingError:
		return "地址编码失败"
	case DuplicateNoOp:
		return "重复请求"
	default:
		return "未知错误"
	}
}
