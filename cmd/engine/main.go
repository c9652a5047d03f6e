// Command engine is the child process spawned for non-python engine
// kinds. Today that means javascript: it hosts a goja VM behind the
// same local HTTP transport the python bootstrap speaks, prints the
// readiness line once bound, then serves until killed.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/oriys/evalgw/internal/hostengine"
	"github.com/oriys/evalgw/internal/transport"
)

func main() {
	kind := flag.String("kind", "javascript", "engine kind to host")
	port := flag.Int("port", 0, "tcp port to bind on loopback")
	code := flag.String("code", "", "optional one-shot preface source")
	flag.Parse()

	if *kind != "javascript" {
		fmt.Fprintf(os.Stderr, "engine: unsupported kind %q\n", *kind)
		os.Exit(1)
	}

	eng := hostengine.NewJSEngine()
	if err := eng.Preface(*code); err != nil {
		fmt.Fprintf(os.Stderr, "engine: preface failed: %v\n", err)
		os.Exit(1)
	}

	srv, err := transport.NewServer(*port, eng.Evaluate, eng.Complete)
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine: listen failed: %v\n", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for sig := range sigCh {
			if sig == syscall.SIGINT && eng.IsEvaluating() {
				eng.Interrupt()
				continue
			}
			srv.Close()
			os.Exit(0)
		}
	}()

	fmt.Printf("OK (pid=%d)\n", os.Getpid())

	if err := srv.Serve(); err != nil {
		os.Exit(0)
	}
}
