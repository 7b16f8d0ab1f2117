package scheduler

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // schedule timezones must resolve on hosts without zoneinfo

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/apiflow/backend/internal/domain/pipeline"
)

// DefaultCronExpression is used for schedules without an expression.
const DefaultCronExpression = "* * * * *"

// CronPlanner computes fire times of cron expressions.
//
// Five-field expressions are standard cron. Six-field expressions carry a
// leading seconds field; a literal "0" seconds field is dropped so such
// expressions behave exactly like their five-field form.
type CronPlanner struct {
	parser     cron.Parser
	defaultLoc *time.Location
	logger     *zap.Logger
}

// NewCronPlanner creates a planner interpreting expressions without a
// timezone in defaultTimezone (UTC when empty).
func NewCronPlanner(defaultTimezone string, l *zap.Logger) (*CronPlanner, error) {
	if l == nil {
		l = zap.NewNop()
	}
	loc := time.UTC
	if defaultTimezone != "" {
		var err error
		loc, err = time.LoadLocation(defaultTimezone)
		if err != nil {
			return nil, fmt.Errorf("%w: default timezone %q: %w", ErrInvalidConfig, defaultTimezone, err)
		}
	}
	return &CronPlanner{
		parser:     cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		defaultLoc: loc,
		logger:     l,
	}, nil
}

// NormalizeExpression trims expr, substitutes DefaultCronExpression for an
// empty one and drops a "0" seconds field.
func NormalizeExpression(expr string) string {
	fields := strings.Fields(expr)
	switch {
	case len(fields) == 0:
		return DefaultCronExpression
	case len(fields) == 6 && fields[0] == "0":
		fields = fields[1:]
	}
	return strings.Join(fields, " ")
}

// NextFireTime returns the first occurrence of expr strictly after from,
// evaluated in timezone. The result is in that timezone.
func (p *CronPlanner) NextFireTime(expr, timezone string, from time.Time) (time.Time, error) {
	sched, loc, err := p.parse(expr, timezone)
	if err != nil {
		p.logger.Warn("cannot plan next execution",
			zap.String("cron_expression", expr),
			zap.String("timezone", timezone),
			zap.Error(err),
		)
		return time.Time{}, err
	}
	next := sched.Next(from.In(loc))
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w: %q never fires", pipeline.ErrInvalidCronExpr, expr)
	}
	return next, nil
}

// Preview returns the next count fire times after from.
func (p *CronPlanner) Preview(expr, timezone string, from time.Time, count int) ([]time.Time, error) {
	sched, loc, err := p.parse(expr, timezone)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		count = 1
	}
	out := make([]time.Time, 0, count)
	at := from.In(loc)
	for range count {
		at = sched.Next(at)
		if at.IsZero() {
			break
		}
		out = append(out, at)
	}
	return out, nil
}

func (p *CronPlanner) parse(expr, timezone string) (cron.Schedule, *time.Location, error) {
	loc := p.defaultLoc
	if tz := strings.TrimSpace(timezone); tz != "" {
		var err error
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %q", pipeline.ErrUnknownTimezone, timezone)
		}
	}
	sched, err := p.parser.Parse(NormalizeExpression(expr))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %q: %w", pipeline.ErrInvalidCronExpr, expr, err)
	}
	return sched, loc, nil
}
