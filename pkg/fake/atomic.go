/*
Portions Copyright (c) Microsoft Corporation.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package fake

import (
	"encoding/json"
	"sync"
)

// AtomicPtr holds a deep-copyable value guarded by a mutex. Clone returns a
// JSON round-tripped copy so tests can mutate results freely.
type AtomicPtr[T any] struct {
	mu    sync.Mutex
	value *T
}

func (p *AtomicPtr[T]) IsNil() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value == nil
}

func (p *AtomicPtr[T]) Set(v *T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.value = v
}

func (p *AtomicPtr[T]) Clone() *T {
	p.mu.Lock()
	defer p.mu.Unlock()
	return clone(p.value)
}

func (p *AtomicPtr[T]) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.value = nil
}

func clone[T any](v *T) *T {
	if v == nil {
		return nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	out := new(T)
	if err := json.Unmarshal(payload, out); err != nil {
		panic(err)
	}
	return out
}

// AtomicPtrStack records every input a mocked function was called with.
type AtomicPtrStack[T any] struct {
	mu     sync.Mutex
	values []*T
}

func (s *AtomicPtrStack[T]) Add(v *T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = append(s.values, clone(v))
}

func (s *AtomicPtrStack[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values)
}

// Pop removes and returns the most recently added value, nil when empty.
func (s *AtomicPtrStack[T]) Pop() *T {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 {
		return nil
	}
	v := s.values[len(s.values)-1]
	s.values = s.values[:len(s.values)-1]
	return v
}

func (s *AtomicPtrStack[T]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = nil
}

// AtomicError returns a configured error a bounded number of times.
type AtomicError struct {
	mu        sync.Mutex
	err       error
	remaining int
}

// Set arms the error for the given number of calls; zero means every call.
func (e *AtomicError) Set(err error, times int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
	e.remaining = times
}

func (e *AtomicError) Get() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err == nil {
		return nil
	}
	err := e.err
	if e.remaining > 0 {
		e.remaining--
		if e.remaining == 0 {
			e.err = nil
		}
	}
	return err
}

func (e *AtomicError) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = nil
	e.remaining = 0
}
