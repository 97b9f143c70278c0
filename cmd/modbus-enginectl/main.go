// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Command modbus-enginectl is a one-shot Modbus TCP master CLI: it connects,
// issues a single operation against a remote slave, prints the result, and
// exits.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ironfield/modbus-engine/master"
	"github.com/ironfield/modbus-engine/modbus"
)

func main() {
	pflag.StringP("address", "a", "127.0.0.1:502", "Slave TCP address (host:port).")
	pflag.Uint8P("unit-id", "u", 0, "MBAP unit id.")
	pflag.StringP("op", "o", "read-holding", "Operation: read-holding, read-input, read-coils, read-discrete, "+
		"write-holding, write-coil, report-slave-id, read-exception-status, read-device-id.")
	pflag.Uint16P("addr", "r", 0, "Starting address.")
	pflag.Uint16P("qty", "q", 1, "Quantity (for read operations).")
	pflag.StringP("values", "v", "", "Comma-separated values to write (for write operations).")
	pflag.DurationP("timeout", "t", time.Second, "Per-request timeout.")
	pflag.StringP("log-level", "l", "info", "Log verbosity: debug, info, warn, error.")
	pflag.Parse()

	if err := viper.BindPFlags(pflag.CommandLine); err != nil {
		fmt.Fprintf(os.Stderr, "failed to bind flags: %v\n", err)
		os.Exit(1)
	}

	setupLogger(viper.GetString("log-level"))

	ctrl := master.New(
		viper.GetString("address"),
		master.WithUnitID(byte(viper.GetUint("unit-id"))),
		master.WithRequestTimeout(viper.GetDuration("timeout")),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ctrl.Connect(ctx); err != nil {
		slog.Error("connect failed", "err", err)
		os.Exit(1)
	}
	defer ctrl.Disconnect()

	if err := run(ctx, ctrl); err != nil {
		slog.Error("operation failed", "op", viper.GetString("op"), "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, ctrl *master.Controller) error {
	addr := uint16(viper.GetUint("addr"))
	qty := uint16(viper.GetUint("qty"))

	switch viper.GetString("op") {
	case "read-holding":
		return printRead(ctrl.Read(ctx, modbus.HoldingRegister, addr, qty))
	case "read-input":
		return printRead(ctrl.Read(ctx, modbus.InputRegister, addr, qty))
	case "read-coils":
		return printRead(ctrl.Read(ctx, modbus.Coil, addr, qty))
	case "read-discrete":
		return printRead(ctrl.Read(ctx, modbus.DiscreteInput, addr, qty))
	case "write-holding":
		words, err := parseWords(viper.GetString("values"))
		if err != nil {
			return err
		}
		if len(words) == 1 {
			return ctrl.Write(ctx, modbus.HoldingRegister, addr, 1, modbus.SingleWord(words[0]))
		}
		return ctrl.Write(ctx, modbus.HoldingRegister, addr, uint16(len(words)), modbus.Words(words))
	case "write-coil":
		bits, err := parseBits(viper.GetString("values"))
		if err != nil {
			return err
		}
		if len(bits) == 1 {
			return ctrl.Write(ctx, modbus.Coil, addr, 1, modbus.SingleBool(bits[0]))
		}
		return ctrl.Write(ctx, modbus.Coil, addr, uint16(len(bits)), modbus.Bits(bits))
	case "report-slave-id":
		result, err := ctrl.ReportSlaveID(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("slave id: % X, run indicator: %v\n", result.SlaveID, result.RunIndicator)
		return nil
	case "read-exception-status":
		status, err := ctrl.ReadExceptionStatus(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("exception status: 0x%02X\n", status)
		return nil
	case "read-device-id":
		objects, err := ctrl.ReadDeviceIdentification(ctx, 0x01)
		if err != nil {
			return err
		}
		for id, value := range objects {
			fmt.Printf("object 0x%02X: %q\n", id, value)
		}
		return nil
	default:
		return fmt.Errorf("unknown operation %q", viper.GetString("op"))
	}
}

func printRead(value modbus.WriteValue, err error) error {
	if err != nil {
		return err
	}
	if value.Bits != nil {
		fmt.Println(value.Bits)
	} else {
		fmt.Println(value.Words)
	}
	return nil
}

func parseWords(s string) ([]uint16, error) {
	parts := strings.Split(s, ",")
	out := make([]uint16, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q: %w", p, err)
		}
		out = append(out, uint16(n))
	}
	return out, nil
}

func parseBits(s string) ([]bool, error) {
	parts := strings.Split(s, ",")
	out := make([]bool, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		out = append(out, p == "1" || strings.EqualFold(p, "true"))
	}
	return out, nil
}

func setupLogger(level string) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	switch level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
}
