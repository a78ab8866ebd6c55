// Command monitor is the interactive REPL around internal/monitor,
// following the flag+bufio.Scanner loop shape of SeleniaProject-Orizon's
// cmd/orizon-repl.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"exok/internal/kernel"
	"exok/internal/monitor"
)

func main() {
	var (
		frames  = flag.Int("frames", 4096, "number of physical page frames in the simulated arena")
		console = flag.Int("console", 4096, "console ring buffer capacity in bytes")
		noPrompt = flag.Bool("no-prompt", false, "disable the interactive prompt (useful when piping commands)")
	)
	flag.Parse()

	log := logrus.NewEntry(logrus.StandardLogger())

	k, err := kernel.New(*frames, *console, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "monitor: %v\n", err)
		os.Exit(1)
	}
	defer k.Close()

	if _, err := k.Boot(); err != 0 {
		fmt.Fprintf(os.Stderr, "monitor: boot: %v\n", err)
		os.Exit(1)
	}

	m := monitor.New(k)

	if !*noPrompt {
		fmt.Println("exokernel monitor. Type 'help' for commands.")
	}
	scanner := bufio.NewScanner(os.Stdin)
	for {
		if !*noPrompt {
			fmt.Print("K> ")
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}
		fmt.Print(m.Run(line))
	}
}
