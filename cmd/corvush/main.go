package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/peterh/liner"

	"github.com/corvusdb/corvus/internal/config"
	"github.com/corvusdb/corvus/pkg/corvus"
)

const prompt = "corvus> "

func historyPath(dataDir string) string {
	return filepath.Join(dataDir, ".corvush_history")
}

func main() {
	dataDir := flag.String("data-dir", "./databases", "directory for database files")
	dbName := flag.String("db", "", "database to select on startup")
	flag.Parse()

	cfg := config.DefaultConfig(*dataDir)
	db, stats, err := corvus.Open(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open data directory %s: %v\n", *dataDir, err)
		os.Exit(1)
	}
	defer db.Close()

	fmt.Printf("corvus shell\ndata directory: %s\n%s\n\n", *dataDir, stats)

	sh := newShell(db, *dbName)

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	if f, err := os.Open(historyPath(*dataDir)); err == nil {
		line.ReadHistory(f)
		f.Close()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		if f, err := os.Create(historyPath(*dataDir)); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
		db.Close()
		os.Exit(0)
	}()

	fmt.Println("Type .help for commands.")

	for {
		input, err := line.Prompt(sh.promptString())
		if err != nil {
			if err == liner.ErrPromptAborted || err == liner.ErrNotTerminalOutput {
				break
			}
			fmt.Fprintln(os.Stderr, "read error:", err)
			break
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if input == ".exit" || input == ".quit" {
			break
		}
		result := sh.execute(input)
		fmt.Println(result)
	}

	if f, err := os.Create(historyPath(*dataDir)); err == nil {
		line.WriteHistory(f)
		f.Close()
	}
}
