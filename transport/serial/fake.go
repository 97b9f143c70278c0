// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package serial

import (
	"bytes"
	"sync"
)

// FakePort is an in-memory Port for tests: writes land in Written, reads
// are served from a caller-fed buffer and Flush calls are counted. Paired
// with FakeRTSPin, which records RTS transitions, half-duplex sequencing
// can be asserted without real hardware.
type FakePort struct {
	mu      sync.Mutex
	toRead  bytes.Buffer
	Written bytes.Buffer
	Flushes int
	closed  bool
}

// Feed appends bytes a subsequent Read will return.
func (f *FakePort) Feed(b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toRead.Write(b)
}

func (f *FakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.toRead.Read(p)
}

func (f *FakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Written.Write(p)
}

func (f *FakePort) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Flushes++
	return nil
}

func (f *FakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// FakeRTSPin records assert/deassert calls in order, e.g. "+", "-".
type FakeRTSPin struct {
	mu     sync.Mutex
	Events []string
}

func (p *FakeRTSPin) Assert() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Events = append(p.Events, "+")
	return nil
}

func (p *FakeRTSPin) Deassert() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Events = append(p.Events, "-")
	return nil
}
