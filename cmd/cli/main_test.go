package main

import (
	"errors"
	"os"
	"testing"

	"github.com/himanishpuri/ChromaMatch/pkg/logger"
)

func TestFatalReleasesService(t *testing.T) {
	for _, store := range []string{"memory", "sqlite"} {
		t.Run(store, func(t *testing.T) {
			tempDir = t.TempDir()
			dbPath = ""
			backend = store
			profileName = "default"
			workers = 1
			convert = false

			code := -1
			exit = func(c int) { code = c }
			t.Cleanup(func() {
				exit = os.Exit
				activeService = nil
			})

			log := logger.Discard()
			createService(log)
			entries, err := os.ReadDir(tempDir)
			if err != nil || len(entries) != 1 {
				t.Fatalf("work dir not created: %v %v", entries, err)
			}

			fatal(log, "Failed to search matches", errors.New("interrupted"))
			if code != 1 {
				t.Errorf("exit code %d, want 1", code)
			}
			if entries, _ := os.ReadDir(tempDir); len(entries) != 0 {
				t.Errorf("%d entries left in the temp dir", len(entries))
			}
			if activeService != nil {
				t.Error("service still marked active")
			}
		})
	}
}
