package ratelimit

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Verb says what applying a Spec does to the limiter's filler.
type Verb string

const (
	VerbStart   Verb = "start"
	VerbStop    Verb = "stop"
	VerbRestart Verb = "restart"
)

// DefaultBurstRatio is used when a spec string omits the burst ratio.
const DefaultBurstRatio = 1.1

// ErrInvalidSpec is returned for rates that are not positive or burst
// ratios below 1.0.
var ErrInvalidSpec = errors.New("invalid rate spec")

// Spec is a target rate with its burst allowance.
type Spec struct {
	OpsPerSec  float64
	BurstRatio float64
	Verb       Verb
}

// NewSpec validates rate and burst and returns a start spec.
func NewSpec(opsPerSec, burstRatio float64) (Spec, error) {
	s := Spec{OpsPerSec: opsPerSec, BurstRatio: burstRatio, Verb: VerbStart}
	return s, s.Validate()
}

// Validate reports ErrInvalidSpec for unusable values.
func (s Spec) Validate() error {
	if math.IsNaN(s.OpsPerSec) || math.IsInf(s.OpsPerSec, 0) || s.OpsPerSec <= 0 {
		return errors.Wrapf(ErrInvalidSpec, "rate must be positive, got %g", s.OpsPerSec)
	}
	if math.IsNaN(s.BurstRatio) || s.BurstRatio < 1.0 {
		return errors.Wrapf(ErrInvalidSpec, "burst ratio must be at least 1.0, got %g", s.BurstRatio)
	}
	switch s.Verb {
	case VerbStart, VerbStop, VerbRestart:
	default:
		return errors.Wrapf(ErrInvalidSpec, "unknown verb %q", s.Verb)
	}
	return nil
}

var specSeparators = regexp.MustCompile(`[,:;]`)

// ParseSpec reads "rate[:burst[:verb]]". The rate may carry a K, M or B
// multiplier.
func ParseSpec(raw string) (Spec, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Spec{}, errors.Wrap(ErrInvalidSpec, "empty rate spec")
	}
	parts := specSeparators.Split(raw, -1)
	if len(parts) > 3 {
		return Spec{}, errors.Wrapf(ErrInvalidSpec, "too many parts in %q", raw)
	}

	rate, err := parseRate(parts[0])
	if err != nil {
		return Spec{}, errors.Wrapf(ErrInvalidSpec, "rate %q: %v", parts[0], err)
	}
	spec := Spec{OpsPerSec: rate, BurstRatio: DefaultBurstRatio, Verb: VerbStart}

	if len(parts) > 1 && strings.TrimSpace(parts[1]) != "" {
		burst, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return Spec{}, errors.Wrapf(ErrInvalidSpec, "burst ratio %q: %v", parts[1], err)
		}
		spec.BurstRatio = burst
	}
	if len(parts) > 2 {
		spec.Verb = Verb(strings.ToLower(strings.TrimSpace(parts[2])))
	}
	return spec, spec.Validate()
}

func parseRate(s string) (float64, error) {
	s = strings.TrimSpace(s)
	mult := 1.0
	if n := len(s); n > 0 {
		switch s[n-1] {
		case 'k', 'K':
			mult = 1e3
		case 'm', 'M':
			mult = 1e6
		case 'b', 'B', 'g', 'G':
			mult = 1e9
		}
		if mult != 1.0 {
			s = s[:n-1]
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return v * mult, nil
}

func (s Spec) String() string {
	return fmt.Sprintf("%s:%s:%s",
		strconv.FormatFloat(s.OpsPerSec, 'f', -1, 64),
		strconv.FormatFloat(s.BurstRatio, 'f', -1, 64),
		s.Verb)
}

// TickUnit is the duration of one token. Slower rates use coarser ticks
// so that elapsed time between refills fits the 32-bit pool budget.
func (s Spec) TickUnit() time.Duration {
	switch {
	case s.OpsPerSec > 1.0:
		return time.Nanosecond
	case s.OpsPerSec > 0.001:
		return time.Microsecond
	case s.OpsPerSec > 0.000001:
		return time.Millisecond
	default:
		return time.Second
	}
}

// TicksPerOp is the number of tokens one admission consumes.
func (s Spec) TicksPerOp() int64 {
	unitsPerSecond := float64(time.Second / s.TickUnit())
	ticks := int64(unitsPerSecond / s.OpsPerSec)
	if ticks < 1 {
		return 1
	}
	return ticks
}

// Interval is the nominal time between two admissions.
func (s Spec) Interval() time.Duration {
	return time.Duration(float64(time.Second) / s.OpsPerSec)
}
