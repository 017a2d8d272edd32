// Package panics provides goroutine wrappers that recover panics, log
// them through a subsystem logger, and bring the process down cleanly
// instead of leaving a half-dead node running.
package panics

import (
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/btcsuite/btclog"
)

// CloseFunc flushes and closes whatever backs the logger (e.g. a log
// rotator). It is invoked before the process exits on a recovered panic.
type CloseFunc func()

// HandlePanic recovers a panic, logs it along with both stack traces,
// runs closeLog, and exits the process. It is meant to be deferred at
// the top of every goroutine spawned through GoroutineWrapperFunc.
func HandlePanic(log btclog.Logger, goroutineStackTrace []byte, closeLog CloseFunc) {
	err := recover()
	if err == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		log.Criticalf("Fatal error: %+v", err)
		if goroutineStackTrace != nil {
			log.Criticalf("Goroutine stack trace: %s", goroutineStackTrace)
		}
		log.Criticalf("Stack trace: %s", debug.Stack())
		if closeLog != nil {
			closeLog()
		}
		close(done)
	}()

	const panicHandlerTimeout = 5 * time.Second
	select {
	case <-time.After(panicHandlerTimeout):
		fmt.Fprintln(os.Stderr, "Couldn't handle a fatal error. Exiting...")
	case <-done:
	}
	log.Criticalf("Exiting")
	os.Exit(1)
}

// GoroutineWrapperFunc returns a spawn function that runs f in a new
// goroutine guarded by HandlePanic.
func GoroutineWrapperFunc(log btclog.Logger, closeLog CloseFunc) func(f func()) {
	return func(f func()) {
		stackTrace := debug.Stack()
		go func() {
			defer HandlePanic(log, stackTrace, closeLog)
			f()
		}()
	}
}

// Exit logs reason as the cause of a graceful shutdown, flushes the
// log, and exits the process.
func Exit(log btclog.Logger, closeLog CloseFunc, reason string) {
	done := make(chan struct{})
	go func() {
		log.Criticalf("Exiting: %s", reason)
		if closeLog != nil {
			closeLog()
		}
		close(done)
	}()

	const exitHandlerTimeout = 5 * time.Second
	select {
	case <-time.After(exitHandlerTimeout):
		fmt.Fprintln(os.Stderr, "Couldn't exit gracefully.")
	case <-done:
	}
	os.Exit(1)
}
