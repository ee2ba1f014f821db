package methods

import (
	"errors"
	"net/http"

	apitypes "github.com/weisyn/ledgernode/internal/api/types"
	"github.com/weisyn/ledgernode/internal/core/storage"
)

// NewObjectNotFoundError 对象不存在
func NewObjectNotFoundError(id string) *apitypes.ProblemDetails {
	return apitypes.NewProblemDetails(
		apitypes.CodeLedgerObjectNotFound,
		apitypes.LayerLedgerService,
		"对象不存在。",
		"Object not found",
		http.StatusNotFound,
		map[string]interface{}{"id": id},
	)
}

// NewTxNotFoundError 交易不存在
func NewTxNotFoundError(digest string) *apitypes.ProblemDetails {
	return apitypes.NewProblemDetails(
		apitypes.CodeLedgerTxNotFound,
		apitypes.LayerLedgerService,
		"交易不存在。",
		"Transaction not found",
		http.StatusNotFound,
		map[string]interface{}{"digest": digest},
	)
}

// NewInvalidParamsError 参数验证错误
func NewInvalidParamsError(detail string, details map[string]interface{}) *apitypes.ProblemDetails {
	if details == nil {
		details = make(map[string]interface{})
	}
	details["detail"] = detail

	return apitypes.NewProblemDetails(
		apitypes.CodeCommonValidationError,
		apitypes.LayerLedgerService,
		"请求参数验证失败，请检查输入参数。",
		detail,
		http.StatusBadRequest,
		details,
	)
}

// NewInternalError 内部错误
func NewInternalError(detail string, details map[string]interface{}) *apitypes.ProblemDetails {
	if details == nil {
		details = make(map[string]interface{})
	}
	details["detail"] = detail

	return apitypes.NewProblemDetails(
		apitypes.CodeCommonInternalError,
		apitypes.LayerLedgerService,
		"服务器内部错误，请稍后重试或联系管理员。",
		detail,
		http.StatusInternalServerError,
		details,
	)
}

// NewServiceUnavailableError 服务不可用
func NewServiceUnavailableError(detail string, details map[string]interface{}) *apitypes.ProblemDetails {
	if details == nil {
		details = make(map[string]interface{})
	}
	details["detail"] = detail

	return apitypes.NewProblemDetails(
		apitypes.CodeCommonServiceUnavailable,
		apitypes.LayerLedgerService,
		"服务暂时不可用，请稍后重试。",
		detail,
		http.StatusServiceUnavailable,
		details,
	)
}

// storageError 存储错误转换，notFound 在记录不存在时调用
func storageError(err error, notFound func() *apitypes.ProblemDetails) error {
	if errors.Is(err, storage.ErrNotFound) {
		return notFound()
	}
	return NewInternalError(err.Error(), nil)
}
