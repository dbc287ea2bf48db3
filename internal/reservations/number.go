package reservations

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/pickup-reservations/internal/apperr"
	"github.com/ariefcatur/pickup-reservations/internal/policy"
)

// MaxDailySequence is the largest sequence that fits the six-digit suffix.
const MaxDailySequence = 999999

// NumberSource hands out a strictly increasing sequence per calendar day.
// Values may be skipped but never repeated.
type NumberSource interface {
	Next(ctx context.Context, day string) (int64, error)
}

// Numberer generates reservation numbers of the form R + YYYYMMDD + six digits.
type Numberer struct {
	src NumberSource
	loc *time.Location
	now policy.Clock
}

func NewNumberer(src NumberSource, loc *time.Location, now policy.Clock) *Numberer {
	if loc == nil {
		loc = time.UTC
	}
	return &Numberer{src: src, loc: loc, now: now}
}

func (n *Numberer) Next(ctx context.Context) (string, error) {
	day := n.now().In(n.loc).Format("20060102")
	seq, err := n.src.Next(ctx, day)
	if err != nil {
		return "", apperr.Internal("next reservation sequence", err)
	}
	return FormatNumber(day, seq)
}

// FormatNumber renders a day (YYYYMMDD) and its sequence as a reservation number.
func FormatNumber(day string, seq int64) (string, error) {
	if seq < 1 || seq > MaxDailySequence {
		return "", apperr.Newf(apperr.KindInternal, "reservation sequence %d out of range for %s", seq, day)
	}
	return fmt.Sprintf("R%s%06d", day, seq), nil
}
