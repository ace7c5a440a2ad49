package acpadapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agenticraft/protocolfabric/internal/fabric"
	"github.com/agenticraft/protocolfabric/internal/metrics"
)

const (
	enhancedFailureThreshold = 5
	enhancedOpenDuration     = 30 * time.Second
)

// Enhanced wraps Custom with a circuit breaker and call metrics, grounded
// 1:1 on the teacher's circuitState/isOpen/recordFailure in
// internal/client/mcp_conn.go, generalized from per-server keying (MCP
// has several named servers) to a single adapter-wide breaker (one ACP
// adapter instance speaks to one REST endpoint).
type Enhanced struct {
	*Custom

	mu                  sync.Mutex
	consecutiveFailures int
	openUntil           time.Time

	messagesSent     int
	messagesReceived int
	toolsExecuted    int
	errors           int
}

func NewEnhanced() *Enhanced { return &Enhanced{Custom: NewCustom()} }

func (e *Enhanced) isOpen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.openUntil.IsZero() && time.Now().Before(e.openUntil)
}

func (e *Enhanced) recordResult(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		wasOpen := !e.openUntil.IsZero() && time.Now().Before(e.openUntil)
		e.errors++
		e.consecutiveFailures++
		if e.consecutiveFailures >= enhancedFailureThreshold {
			e.openUntil = time.Now().Add(enhancedOpenDuration)
			if !wasOpen {
				metrics.CircuitBreakerTrips.WithLabelValues(string(fabric.ACP)).Inc()
			}
		}
		return
	}
	e.toolsExecuted++
	e.consecutiveFailures = 0
}

// Connect clears any open breaker from a prior connection, so a fresh
// session never inherits a stale open state (Open Question 2).
func (e *Enhanced) Connect(ctx context.Context, config map[string]any) error {
	e.mu.Lock()
	e.consecutiveFailures = 0
	e.openUntil = time.Time{}
	e.mu.Unlock()
	return e.Custom.Connect(ctx, config)
}

func (e *Enhanced) Disconnect(ctx context.Context) error {
	e.mu.Lock()
	e.consecutiveFailures = 0
	e.openUntil = time.Time{}
	e.mu.Unlock()
	return e.Custom.Disconnect(ctx)
}

func (e *Enhanced) ExecuteTool(ctx context.Context, name string, args map[string]any) (any, error) {
	if e.isOpen() {
		return nil, &fabric.Error{Op: "execute_tool", Protocol: fabric.ACP, Kind: fabric.KindCircuitOpen, Err: fmt.Errorf("circuit breaker open")}
	}
	result, err := e.Custom.ExecuteTool(ctx, name, args)
	e.recordResult(err)
	return result, err
}

func (e *Enhanced) SendMessage(ctx context.Context, receiver string, content map[string]any) error {
	err := e.Custom.SendMessage(ctx, receiver, content)
	e.mu.Lock()
	if err != nil {
		e.errors++
	} else {
		e.messagesSent++
	}
	e.mu.Unlock()
	if err != nil {
		metrics.ACPMessages.WithLabelValues("error").Inc()
	} else {
		metrics.ACPMessages.WithLabelValues("sent").Inc()
	}
	return err
}

// Metrics reports the same counters the source's ACPEnhancedAdapter
// exposes via get_metrics().
func (e *Enhanced) Metrics() map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return map[string]int{
		"messages_sent":     e.messagesSent,
		"messages_received": e.messagesReceived,
		"tools_executed":    e.toolsExecuted,
		"errors":            e.errors,
	}
}
