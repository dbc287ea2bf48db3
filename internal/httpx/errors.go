package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/ariefcatur/pickup-reservations/internal/apperr"
)

type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Detail    string `json:"detail,omitempty"`
	Retryable bool   `json:"retryable"`
}

type errorView struct {
	status  int
	message string
}

var errorViews = map[apperr.Kind]errorView{
	apperr.KindValidation:                {http.StatusBadRequest, "입력값을 확인해주세요."},
	apperr.KindNotFound:                  {http.StatusNotFound, "요청한 정보를 찾을 수 없습니다."},
	apperr.KindForbidden:                 {http.StatusForbidden, "권한이 없습니다."},
	apperr.KindInsufficientStock:         {http.StatusConflict, "재고가 부족합니다."},
	apperr.KindInvalidPickupTime:         {http.StatusBadRequest, "픽업 시간은 현재 시간 이후여야 합니다."},
	apperr.KindInvalidTransition:         {http.StatusConflict, "이미 처리된 예약입니다."},
	apperr.KindCancellationWindowExpired: {http.StatusConflict, "픽업 2시간 전까지만 취소할 수 있습니다. 업체에 직접 문의해주세요."},
	apperr.KindReasonRequired:            {http.StatusBadRequest, "취소 사유를 입력해주세요."},
	apperr.KindNotEligible:               {http.StatusUnprocessableEntity, "픽업 완료된 예약만 리뷰를 작성할 수 있습니다."},
	apperr.KindDuplicateReview:           {http.StatusConflict, "이미 리뷰를 작성한 예약입니다."},
}

var internalView = errorView{http.StatusInternalServerError, "일시적인 오류가 발생했습니다. 잠시 후 다시 시도해주세요."}

// writeError maps a classified error to its status and user-facing message.
// Infrastructure details are logged, never returned.
func writeError(w http.ResponseWriter, log zerolog.Logger, err error) {
	kind := apperr.KindOf(err)
	view, ok := errorViews[kind]
	body := errorBody{Error: kind.String(), Retryable: apperr.IsTransient(err)}
	if ok {
		var e *apperr.Error
		if errors.As(err, &e) {
			body.Detail = e.Message
		}
	} else {
		view = internalView
		log.Error().Err(err).Msg("request failed")
	}
	body.Message = view.message
	writeJSON(w, view.status, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusBadRequest, errorBody{
		Error:   apperr.KindValidation.String(),
		Message: errorViews[apperr.KindValidation].message,
		Detail:  detail,
	})
}
