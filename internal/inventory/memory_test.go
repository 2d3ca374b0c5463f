package inventory

import (
	"context"
	"fmt"
	"sync"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

type staticLocations struct {
	id int64
}

func (l staticLocations) DefaultLocationID(context.Context) (int64, error) {
	if l.id == 0 {
		return 0, fmt.Errorf("default location %w", shared.ErrNotFound)
	}
	return l.id, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []MovementRecorded
}

func (p *recordingPublisher) PublishMovementRecorded(_ context.Context, events []MovementRecorded) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

type countingMetrics struct {
	mu         sync.Mutex
	movements  map[string]int
	rejections map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{movements: map[string]int{}, rejections: map[string]int{}}
}

func (m *countingMetrics) ObserveMovement(t string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.movements[t]++
}

func (m *countingMetrics) ObserveRejection(op, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejections[op+":"+kind]++
}
