package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanwedge/internal/scanner"
)

func healthy(context.Context) CheckResult { return CheckResult{Status: StatusHealthy} }

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		name     string
		critical bool
		result   Status
		want     Status
	}{
		{"all healthy", true, StatusHealthy, StatusHealthy},
		{"critical unhealthy", true, StatusUnhealthy, StatusUnhealthy},
		{"optional unhealthy degrades", false, StatusUnhealthy, StatusDegraded},
		{"critical degraded", true, StatusDegraded, StatusDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			c.RegisterFunc("capture", true, healthy)
			c.RegisterFunc("dep", tt.critical, func(context.Context) CheckResult {
				return CheckResult{Status: tt.result}
			})
			c.Check(context.Background())
			assert.Equal(t, tt.want, c.OverallStatus())
		})
	}
}

func TestUncheckedCriticalIsUnknown(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("store", true, healthy)
	assert.Equal(t, StatusUnknown, c.OverallStatus())

	c.Check(context.Background())
	assert.Equal(t, StatusHealthy, c.OverallStatus())
}

func TestCheckTimeout(t *testing.T) {
	c := NewChecker()
	c.Register(&Component{
		Name:    "slow",
		Timeout: 20 * time.Millisecond,
		Check: func(ctx context.Context) CheckResult {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			return CheckResult{Status: StatusHealthy}
		},
	})

	results := c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, results["slow"].Status)
	assert.Equal(t, "check timed out", results["slow"].Message)
}

func TestCheckPanic(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("boom", true, func(context.Context) CheckResult { panic("device gone") })

	results := c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, results["boom"].Status)
	assert.Equal(t, "device gone", results["boom"].Error)
	assert.Equal(t, StatusUnhealthy, c.OverallStatus())
}

func TestReport(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("capture", true, healthy)
	c.RegisterFunc("redis", false, healthy)

	r := c.Report(context.Background(), false)
	assert.Equal(t, StatusHealthy, r.Status)
	assert.Nil(t, r.Components)

	r = c.Report(context.Background(), true)
	require.Len(t, r.Components, 2)
	assert.Equal(t, []string{"capture", "redis"}, c.Components())
}

func TestPingCheck(t *testing.T) {
	ok := PingCheck("store", func(context.Context) error { return nil })
	assert.Equal(t, StatusHealthy, ok(context.Background()).Status)

	bad := PingCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	res := bad(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Equal(t, "redis unreachable", res.Message)
	assert.Equal(t, "connection refused", res.Error)
}

func TestCaptureCheck(t *testing.T) {
	tests := []struct {
		status scanner.Status
		want   Status
	}{
		{scanner.Status{Enabled: false}, StatusHealthy},
		{scanner.Status{Enabled: true, Listening: true}, StatusHealthy},
		{scanner.Status{Enabled: true, Listening: false}, StatusDegraded},
	}
	for _, tt := range tests {
		check := CaptureCheck(func() scanner.Status { return tt.status })
		assert.Equal(t, tt.want, check(context.Background()).Status, "%+v", tt.status)
	}
}
