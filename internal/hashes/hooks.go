package hashes

import (
	"os"
	"os/signal"
	stdsync "sync"
	"syscall"
)

// Exit-flush registry. Open stores register themselves so an interrupt or
// termination signal flushes every open tenant map before the process dies.
// The signal listener is installed once per process; handlers are
// idempotent because Flush is a no-op on a clean store.
var (
	exitMu     stdsync.Mutex
	exitStores = make(map[*Store]struct{})
	exitOnce   stdsync.Once
)

func registerForExitFlush(s *Store) {
	exitMu.Lock()
	exitStores[s] = struct{}{}
	exitMu.Unlock()

	exitOnce.Do(installExitListener)
}

func unregisterForExitFlush(s *Store) {
	exitMu.Lock()
	delete(exitStores, s)
	exitMu.Unlock()
}

// FlushAll flushes every registered store. Called from the signal listener
// and exposed for callers that trap their own signals or recover panics.
func FlushAll() {
	exitMu.Lock()
	stores := make([]*Store, 0, len(exitStores))
	for s := range exitStores {
		stores = append(stores, s)
	}
	exitMu.Unlock()

	for _, s := range stores {
		// Best effort — the process is on its way out.
		_ = s.Flush()
	}
}

func installExitListener() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-ch
		FlushAll()

		// Restore default handling and re-raise so the exit status
		// reflects the signal.
		signal.Stop(ch)
		signal.Reset(sig)

		if p, err := os.FindProcess(os.Getpid()); err == nil {
			_ = p.Signal(sig)
		}
	}()
}
