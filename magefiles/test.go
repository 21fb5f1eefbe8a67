//go:build mage

// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Test groups the test targets.
type Test mg.Namespace

// All runs every test.
func (Test) All() error {
	return sh.RunV(binGo, "test", "./...")
}

// Race runs every test with the race detector. The selector and the
// in-memory document store are the main concurrent code.
func (Test) Race() error {
	return sh.RunV(binGo, "test", "-race", "./...")
}

// Adapter runs the cross-engine adapter tests verbosely.
func (Test) Adapter() error {
	return sh.RunV(binGo, "test", "-v", "./internal/adapter/...")
}

// Cover writes coverage.out and prints the total.
func (Test) Cover() error {
	if err := sh.RunV(binGo, "test", "-coverprofile="+coverFile, "./..."); err != nil {
		return err
	}
	out, err := sh.Output(binGo, "tool", "cover", "-func="+coverFile)
	if err != nil {
		return err
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	fmt.Println(lines[len(lines)-1])
	return nil
}

// Integration runs the document-store tests against the MongoDB deployment
// in QUIRE_TEST_MONGO_URI.
func (Test) Integration() error {
	return sh.RunV(binGo, "test", "-tags", "integration", "-v", "./internal/docstore/...")
}
