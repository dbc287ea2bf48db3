package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ariefcatur/pickup-reservations/internal/apperr"
)

// Coordinator turns lifecycle intents into outbox messages.
type Coordinator struct {
	producer string
	now      func() time.Time
}

func NewCoordinator(producer string, now func() time.Time) *Coordinator {
	return &Coordinator{producer: producer, now: now}
}

// Notify renders the intent and appends it to the outbox through w. Delivery
// happens later in the relay, so a broker outage never fails the caller.
func (c *Coordinator) Notify(ctx context.Context, w OutboxWriter, in Intent) error {
	if in.RecipientID == "" {
		return apperr.New(apperr.KindValidation, "notification recipient is required")
	}

	title, message, err := Render(in)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(NotificationRequestedPayload{
		RecipientID:   in.RecipientID,
		Type:          in.Type,
		Title:         title,
		Message:       message,
		ReservationID: in.ReservationID,
		MerchantID:    in.MerchantID,
	})
	if err != nil {
		return apperr.Internal("encode notification payload", err)
	}

	now := c.now()
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     EventNotificationRequested,
		EventVersion:  1,
		OccurredAt:    now,
		Producer:      c.producer,
		CorrelationID: in.ReservationID,
		Payload:       payload,
	}
	b, err := json.Marshal(env)
	if err != nil {
		return apperr.Internal("encode notification envelope", err)
	}

	return w.AppendOutbox(ctx, OutboxMessage{
		ID:            env.EventID,
		Topic:         TopicNotificationRequested,
		Key:           in.RecipientID,
		EventType:     EventNotificationRequested,
		Payload:       b,
		NextAttemptAt: now,
		CreatedAt:     now,
	})
}

// Render produces the user-facing title and message for an intent.
func Render(in Intent) (title, message string, err error) {
	switch in.Type {
	case TypeNewReservation:
		return "새 예약 알림",
			fmt.Sprintf("새 예약이 들어왔습니다.\n예약번호: %s\n상품: %s (%d개)", in.ReservationNumber, in.ProductName, in.Quantity),
			nil
	case TypeReservationCancelled:
		return "예약 취소 알림",
			fmt.Sprintf("고객님이 예약을 취소했습니다.\n예약번호: %s\n(사유: %s)", in.ReservationNumber, in.Reason),
			nil
	case TypeReservationCancelledByStore:
		return "예약 취소 알림",
			fmt.Sprintf("업체에서 예약을 취소했습니다.\n상품: %s\n사유: %s", in.ProductName, in.Reason),
			nil
	case TypeReservationStatus:
		switch in.Status {
		case "confirmed":
			return "예약 확정 알림", fmt.Sprintf("예약이 확정되었습니다.\n예약번호: %s", in.ReservationNumber), nil
		case "expired":
			return "예약 만료 알림", fmt.Sprintf("픽업 시간이 지나 예약이 만료되었습니다.\n예약번호: %s", in.ReservationNumber), nil
		default:
			return "예약 상태 변경", fmt.Sprintf("예약 상태가 변경되었습니다: %s\n예약번호: %s", in.Status, in.ReservationNumber), nil
		}
	case TypeNewReview:
		return "새 리뷰 알림", fmt.Sprintf("새 리뷰가 등록되었습니다. (평점 %d점)", in.Rating), nil
	case TypeNewProduct:
		return "새 상품 알림", fmt.Sprintf("관심 업체에 새 상품이 등록되었습니다: %s", in.ProductName), nil
	default:
		return "", "", apperr.Newf(apperr.KindValidation, "unknown notification type %q", in.Type)
	}
}
