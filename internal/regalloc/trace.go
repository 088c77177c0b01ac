package regalloc

import (
	"strconv"
	"strings"
)

// Trace levels.
const (
	tracePhases    = 1
	traceDecisions = 2
	traceDetails   = 4
)

func (ls *LinearScan) traceEnabled(level int) bool {
	return ls.traceLevel >= level
}

func (ls *LinearScan) tracePhase(format string, args ...interface{}) {
	if ls.traceEnabled(tracePhases) {
		ls.log.Debugf(format, args...)
	}
}

func (ls *LinearScan) traceMoved(i *Interval, kind intervalKind, from, to IntervalState) {
	if ls.traceEnabled(traceDetails) {
		ls.log.WithField("kind", kind).Debugf("%s: %s -> %s at %d", i, from, to, ls.currentPosition)
	}
}

// traceRegisterState dumps usePos and blockPos of the available registers.
func (ls *LinearScan) traceRegisterState(what string, withBlockPos bool) {
	if !ls.traceEnabled(traceDetails) {
		return
	}
	var b strings.Builder
	for _, r := range ls.availableRegs {
		b.WriteString(ls.regInfo.regName(int(r)))
		b.WriteByte('=')
		b.WriteString(formatPosition(ls.usePos[r]))
		if withBlockPos {
			b.WriteByte('/')
			b.WriteString(formatPosition(ls.blockPos[r]))
		}
		b.WriteByte(' ')
	}
	ls.log.WithField("regs", ls.availableSet.format(ls.regInfo)).Debugf("%s: %s", what, strings.TrimSpace(b.String()))
}

func formatPosition(pos int) string {
	if pos == maxPosition {
		return "max"
	}
	return strconv.Itoa(pos)
}
