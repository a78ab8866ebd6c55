// Command forktree reproduces the depth-3 binary fork tree of
// original_source/user/forktree.c (SPEC_FULL supplemented feature 5,
// §8 scenario 6): 15 environments (the root and 14 forked descendants),
// each printing its binary path.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"exok/internal/kernel"
	"exok/internal/ulib"
)

const depth = 3

func forktree(e *ulib.Env, path string) {
	fmt.Printf("%04x: I am '%s'\n", e.Self, path)
	if len(path) >= depth {
		return
	}
	for _, branch := range []byte{'0', '1'} {
		childID, err := e.Fork()
		if err != 0 {
			fmt.Fprintf(os.Stderr, "forktree: fork: %v\n", err)
			os.Exit(1)
		}
		child := &ulib.Env{K: e.K, Self: childID}
		forktree(child, path+string(branch))
	}
}

func main() {
	frames := flag.Int("frames", 4096, "number of physical page frames in the simulated arena")
	flag.Parse()

	log := logrus.NewEntry(logrus.StandardLogger())
	k, err := kernel.New(*frames, 1024, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "forktree: %v\n", err)
		os.Exit(1)
	}
	defer k.Close()

	rootID, eerr := k.Boot()
	if eerr != 0 {
		fmt.Fprintf(os.Stderr, "forktree: boot: %v\n", eerr)
		os.Exit(1)
	}
	root := &ulib.Env{K: k, Self: rootID}
	forktree(root, "")
}
