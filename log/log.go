// Package log wires btclog subsystem loggers for every BATHRON consensus
// component, the way blockchain/shell_state.go's package-level `log.Infof`
// calls presuppose a configured backend. An optional rotating file backend
// is layered in via github.com/jrick/logrotate when a log file path is
// configured (ambient logging stack, SPEC_FULL.md §1).
package log

import (
	"os"
	"sync"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate"
)

// multiWriter fans writes out to stdout and, once configured, a rotating
// log file. It exists so the backend can be constructed once at package
// init and have its destination widened later by UseRotatingFile.
type multiWriter struct {
	mu   sync.Mutex
	file *logrotate.Rotator
}

func (w *multiWriter) Write(p []byte) (int, error) {
	n, err := os.Stdout.Write(p)
	w.mu.Lock()
	f := w.file
	w.mu.Unlock()
	if f != nil {
		_, _ = f.Write(p)
	}
	return n, err
}

var writer = &multiWriter{}
var backendLog = btclog.NewBackend(writer)

// Subsystem loggers, one per consensus component (spec.md §2 components
// C1-C5 plus the publisher auxiliary task).
var (
	BtcSPVLog     = backendLog.Logger("BSPV")
	LedgerLog     = backendLog.Logger("LDGR")
	BurnLog       = backendLog.Logger("BURN")
	SettleLog     = backendLog.Logger("SETL")
	HTLCLog       = backendLog.Logger("HTLC")
	ConsensusLog  = backendLog.Logger("CNSS")
	PublisherLog  = backendLog.Logger("PUBL")
	MasternodeLog = backendLog.Logger("MNDE")
)

func init() {
	SetLevel(btclog.LevelInfo)
}

// SetLevel sets the log level for every subsystem logger at once.
func SetLevel(level btclog.Level) {
	for _, l := range []btclog.Logger{
		BtcSPVLog, LedgerLog, BurnLog, SettleLog, HTLCLog, ConsensusLog,
		PublisherLog, MasternodeLog,
	} {
		l.SetLevel(level)
	}
}

// UseRotatingFile additionally mirrors log output to a rotating file at
// path, keeping at most maxRolls historical files.
func UseRotatingFile(path string, maxRolls int) error {
	rotator, err := logrotate.NewRotator(path, maxRolls)
	if err != nil {
		return err
	}
	writer.mu.Lock()
	writer.file = rotator
	writer.mu.Unlock()
	return nil
}
