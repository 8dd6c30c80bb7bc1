package endpoint

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/catalogwatch/component"
)

// CheckStatus is the outcome of a single health check.
type CheckStatus string

const (
	CheckPassing CheckStatus = "passing"
	CheckWarning CheckStatus = "warning"
	CheckFailure CheckStatus = "failure"
)

// Check is the result of one health probe.
type Check struct {
	Name    string      `json:"name"`
	Status  CheckStatus `json:"status"`
	Message string      `json:"message,omitempty"`
}

// CheckFunc is a health probe. It takes no arguments beyond the request
// context.
type CheckFunc func(ctx context.Context) Check

// Report groups check results by status.
type Report struct {
	Passing []Check `json:"passing"`
	Warning []Check `json:"warning"`
	Failure []Check `json:"failure"`
}

// Status maps the report to an HTTP status: 500 when anything failed, 429
// when anything warned, 200 otherwise.
func (r Report) Status() int {
	switch {
	case len(r.Failure) > 0:
		return http.StatusInternalServerError
	case len(r.Warning) > 0:
		return http.StatusTooManyRequests
	default:
		return http.StatusOK
	}
}

// Run executes every check in order and groups the results. Unknown
// statuses count as passing. A panicking check aborts the run.
func Run(ctx context.Context, checks []CheckFunc) (report Report, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("health check panicked: %v", rec)
		}
	}()
	report = Report{Passing: []Check{}, Warning: []Check{}, Failure: []Check{}}
	for _, check := range checks {
		res := check(ctx)
		switch res.Status {
		case CheckFailure:
			report.Failure = append(report.Failure, res)
		case CheckWarning:
			report.Warning = append(report.Warning, res)
		default:
			report.Passing = append(report.Passing, res)
		}
	}
	return report, nil
}

// Health returns a handler that runs the checks on every request.
func Health(checks ...CheckFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := Run(c.Request.Context(), checks)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"messages": []string{err.Error()}})
			return
		}
		c.JSON(report.Status(), gin.H{"message": report})
	}
}

// ComponentCheck adapts a lifecycle component's health to a Check:
// healthy is passing, degraded is warning, anything else is failure.
func ComponentCheck(comp component.Component) CheckFunc {
	return func(ctx context.Context) Check {
		h := comp.Health(ctx)
		status := CheckFailure
		switch h.Status {
		case component.StatusHealthy:
			status = CheckPassing
		case component.StatusDegraded:
			status = CheckWarning
		}
		name := h.Name
		if name == "" {
			name = comp.Name()
		}
		return Check{Name: name, Status: status, Message: h.Message}
	}
}
