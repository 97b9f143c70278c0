// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Command modbus-slave-sim runs a Modbus RTU slave simulator backed by an
// in-memory register map, for exercising a master implementation against
// real serial wiring (or a pty pair) without real field hardware.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ironfield/modbus-engine/internal/config"
	"github.com/ironfield/modbus-engine/modbus"
	"github.com/ironfield/modbus-engine/slave"
	serialport "github.com/ironfield/modbus-engine/transport/serial"
)

func main() {
	configFile := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	setupLogger(cfg.Log)

	port, err := serialport.Open(cfg.Slave.Serial.ToPortConfig())
	if err != nil {
		slog.Error("failed to open serial port", "err", err)
		os.Exit(1)
	}
	defer port.Close()

	store := newRegisterStore()
	dispatcher := buildDispatcher(store)

	srv := slave.NewServer(cfg.Slave.SlaveID, port, nil, cfg.Slave.Serial.BaudRate, dispatcher,
		slave.WithGapCharTimes(cfg.Slave.GapCharTimes))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("shutting down...")
		cancel()
	}()

	slog.Info("modbus-slave-sim listening", "device", cfg.Slave.Serial.Device, "slave_id", cfg.Slave.SlaveID)
	if err := srv.Serve(ctx); err != nil {
		slog.Error("server stopped with error", "err", err)
		os.Exit(1)
	}
	slog.Info("goodbye.")
}

// registerStore is a flat, in-memory Modbus data model covering the full
// 16-bit address space for each of the four data tables.
type registerStore struct {
	mu               sync.RWMutex
	coils            []bool
	discreteInputs   []bool
	holdingRegisters []uint16
	inputRegisters   []uint16
}

const maxAddress = 65536

func newRegisterStore() *registerStore {
	return &registerStore{
		coils:            make([]bool, maxAddress),
		discreteInputs:   make([]bool, maxAddress),
		holdingRegisters: make([]uint16, maxAddress),
		inputRegisters:   make([]uint16, maxAddress),
	}
}

func buildDispatcher(store *registerStore) *slave.Dispatcher {
	d := slave.New()

	d.OnRead(modbus.Coil, store.readBits(func(s *registerStore) []bool { return s.coils }))
	d.OnRead(modbus.DiscreteInput, store.readBits(func(s *registerStore) []bool { return s.discreteInputs }))
	d.OnRead(modbus.HoldingRegister, store.readWords(func(s *registerStore) []uint16 { return s.holdingRegisters }))
	d.OnRead(modbus.InputRegister, store.readWords(func(s *registerStore) []uint16 { return s.inputRegisters }))

	d.OnWrite(modbus.Coil, store.writeBits())
	d.OnWrite(modbus.HoldingRegister, store.writeWords())

	d.OnReportSlaveID(func() (modbus.ReportSlaveIDResult, modbus.ExceptionCode) {
		return modbus.ReportSlaveIDResult{SlaveID: []byte("modbus-slave-sim"), RunIndicator: true}, 0
	})
	d.OnReadExceptionStatus(func() (byte, modbus.ExceptionCode) {
		return 0, 0
	})

	return d
}

func (s *registerStore) readBits(field func(*registerStore) []bool) slave.ReadHandler {
	return func(startAddr, quantity uint16) (modbus.WriteValue, modbus.ExceptionCode) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		table := field(s)
		if int(startAddr)+int(quantity) > len(table) {
			return modbus.WriteValue{}, modbus.ExceptionIllegalDataAddress
		}
		out := make([]bool, quantity)
		copy(out, table[startAddr:int(startAddr)+int(quantity)])
		return modbus.Bits(out), 0
	}
}

func (s *registerStore) readWords(field func(*registerStore) []uint16) slave.ReadHandler {
	return func(startAddr, quantity uint16) (modbus.WriteValue, modbus.ExceptionCode) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		table := field(s)
		if int(startAddr)+int(quantity) > len(table) {
			return modbus.WriteValue{}, modbus.ExceptionIllegalDataAddress
		}
		out := make([]uint16, quantity)
		copy(out, table[startAddr:int(startAddr)+int(quantity)])
		return modbus.Words(out), 0
	}
}

func (s *registerStore) writeBits() slave.WriteHandler {
	return func(startAddr, quantity uint16, value modbus.WriteValue) modbus.ExceptionCode {
		s.mu.Lock()
		defer s.mu.Unlock()
		if int(startAddr)+int(quantity) > len(s.coils) {
			return modbus.ExceptionIllegalDataAddress
		}
		if value.Kind == modbus.WriteSingleBool {
			s.coils[startAddr] = value.Bool
			return 0
		}
		copy(s.coils[startAddr:int(startAddr)+int(quantity)], value.Bits)
		return 0
	}
}

func (s *registerStore) writeWords() slave.WriteHandler {
	return func(startAddr, quantity uint16, value modbus.WriteValue) modbus.ExceptionCode {
		s.mu.Lock()
		defer s.mu.Unlock()
		if int(startAddr)+int(quantity) > len(s.holdingRegisters) {
			return modbus.ExceptionIllegalDataAddress
		}
		if value.Kind == modbus.WriteSingleWord {
			s.holdingRegisters[startAddr] = value.Word
			return 0
		}
		copy(s.holdingRegisters[startAddr:int(startAddr)+int(quantity)], value.Words)
		return 0
	}
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("failed to open log file, falling back to stdout: %v\n", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
