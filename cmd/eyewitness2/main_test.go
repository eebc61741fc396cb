package main

import (
	"testing"
)

func TestRootHasLaunch(t *testing.T) {
	root := newRootCmd()
	found := false
	for _, cmd := range root.Commands() {
		if cmd.Name() == "launch" {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected root command to include launch")
	}
}

func TestRootHasBuild(t *testing.T) {
	root := newRootCmd()
	found := false
	for _, cmd := range root.Commands() {
		if cmd.Name() == "build" {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected root command to include build")
	}
}

func TestRootHasScan(t *testing.T) {
	root := newRootCmd()
	found := false
	for _, cmd := range root.Commands() {
		if cmd.Name() == "scan" {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected root command to include scan")
	}
}

func TestRootHasVersion(t *testing.T) {
	root := newRootCmd()
	found := false
	for _, cmd := range root.Commands() {
		if cmd.Name() == "version" {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected root command to include version")
	}
}

func TestRootHasDoctor(t *testing.T) {
	root := newRootCmd()
	found := false
	for _, cmd := range root.Commands() {
		if cmd.Name() == "doctor" {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected root command to include doctor")
	}
}

func TestLaunchDisablesFlagParsing(t *testing.T) {
	root := newRootCmd()
	for _, cmd := range root.Commands() {
		if cmd.Name() == "launch" {
			if !cmd.DisableFlagParsing {
				t.Fatalf("expected launch to disable flag parsing")
			}
			return
		}
	}
	t.Fatalf("launch command not found")
}
