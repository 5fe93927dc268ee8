package parameter

import (
	"context"

	"github.com/dogmatiq/mergedeploy/internal/x/syncx"
)

// Memory is a Store that keeps parameters in memory.
//
// It is not transactional. The zero-value is ready to use.
type Memory struct {
	m      syncx.RWMutex
	values map[string]string
}

// Put sets the value of a parameter.
func (s *Memory) Put(ctx context.Context, name, value string) error {
	return s.m.Do(ctx, func() error {
		if s.values == nil {
			s.values = map[string]string{}
		}

		s.values[name] = value

		return nil
	})
}

// Get returns the value of a parameter.
func (s *Memory) Get(ctx context.Context, name string) (v string, ok bool, err error) {
	err = s.m.View(ctx, func() error {
		v, ok = s.values[name]
		return nil
	})

	return v, ok, err
}
