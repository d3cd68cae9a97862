package main

import (
	"os"
	"testing"

	"github.com/joho/godotenv"
)

// TestMain loads .env if present so CADENCE_* overrides apply to tests too.
func TestMain(m *testing.M) {
	_ = godotenv.Load()
	os.Exit(m.Run())
}
