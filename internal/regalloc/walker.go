package regalloc

import "fmt"

// intervalKind separates the intervals of fixed registers from the others in the worklists.
type intervalKind byte

const (
	fixedKind intervalKind = iota
	anyKind
	numIntervalKinds
)

// String implements fmt.Stringer.
func (k intervalKind) String() string {
	if k == fixedKind {
		return "fixed"
	}
	return "any"
}

// walk allocates all the unhandled intervals.
func (ls *LinearScan) walk() error {
	ls.nextInterval()
	return ls.walkTo(maxPosition)
}

// walkTo activates the unhandled intervals starting at or before toOpID in order of their start position.
// The active and inactive worklists are brought up to date before each activation.
func (ls *LinearScan) walkTo(toOpID int) error {
	for ls.current != nil {
		cur := ls.current
		isActive := cur.from() <= toOpID
		opID := toOpID
		if isActive {
			opID = cur.from()
		}

		ls.currentPosition = opID
		ls.walkStateTo(StateActive, opID)
		ls.walkStateTo(StateInactive, opID)
		if !isActive {
			return nil
		}

		// The allocation core relies on the current interval being active while it is handled.
		cur.state = StateActive
		listed, err := ls.activateCurrent()
		if err != nil {
			return err
		}
		if listed {
			ls.insertSortedByCurrentFrom(&ls.active[ls.currentKind], cur)
			ls.traceMoved(cur, ls.currentKind, StateUnhandled, StateActive)
		} else {
			cur.state = StateHandled
		}
		ls.nextInterval()
	}
	return nil
}

// walkStateTo moves the intervals of the given worklist whose current range changed at from.
func (ls *LinearScan) walkStateTo(state IntervalState, from int) {
	for kind := intervalKind(0); kind < numIntervalKinds; kind++ {
		list := ls.list(state, kind)
		moved := ls.movedScratch[:0]
		kept := (*list)[:0]
		for _, id := range *list {
			cur := ls.interval(id)
			if cur.currentFrom() > from {
				kept = append(kept, id)
				continue
			}
			changed := false
			for cur.currentTo() <= from {
				cur.nextRange()
				changed = true
			}
			if changed || (state == StateInactive && cur.currentFrom() <= from) {
				moved = append(moved, id)
			} else {
				kept = append(kept, id)
			}
		}
		*list = kept

		for _, id := range moved {
			cur := ls.interval(id)
			switch {
			case cur.currentAtEnd():
				cur.state = StateHandled
			case cur.currentFrom() <= from:
				ls.insertSortedByCurrentFrom(&ls.active[kind], cur)
				cur.state = StateActive
			default:
				ls.insertSortedByCurrentFrom(&ls.inactive[kind], cur)
				cur.state = StateInactive
			}
			ls.traceMoved(cur, kind, state, cur.state)
		}
		ls.movedScratch = moved
	}
}

// nextInterval pops the unhandled interval starting first. Fixed intervals go first at equal positions.
func (ls *LinearScan) nextInterval() {
	anyList, fixedList := ls.unhandled[anyKind], ls.unhandled[fixedKind]
	var kind intervalKind
	switch {
	case len(anyList) > 0:
		kind = anyKind
		if len(fixedList) > 0 && ls.interval(fixedList[0]).from() <= ls.interval(anyList[0]).from() {
			kind = fixedKind
		}
	case len(fixedList) > 0:
		kind = fixedKind
	default:
		ls.current = nil
		return
	}
	list := ls.unhandled[kind]
	ls.currentKind = kind
	ls.current = ls.interval(list[0])
	ls.unhandled[kind] = list[1:]
	ls.current.rewindRange()
}

// appendToUnhandled inserts i, a new split child, into the unhandled intervals. At equal start positions
// the interval used first goes first.
func (ls *LinearScan) appendToUnhandled(i *Interval) {
	list := ls.unhandled[anyKind]
	from, firstUse := i.from(), i.firstUsage(NoUse)
	index := 0
	for index < len(list) {
		cur := ls.interval(list[index])
		if cur.from() > from || (cur.from() == from && cur.firstUsage(NoUse) >= firstUse) {
			break
		}
		index++
	}
	list = append(list, noInterval)
	copy(list[index+1:], list[index:])
	list[index] = i.id
	ls.unhandled[anyKind] = list
	i.state = StateUnhandled
}

// insertSortedByCurrentFrom inserts i before the first interval of list starting at or after its current range.
func (ls *LinearScan) insertSortedByCurrentFrom(list *[]IntervalID, i *Interval) {
	l := *list
	from := i.currentFrom()
	index := 0
	for index < len(l) && ls.interval(l[index]).currentFrom() < from {
		index++
	}
	l = append(l, noInterval)
	copy(l[index+1:], l[index:])
	l[index] = i.id
	*list = l
}

// removeFromList removes i from the active or inactive worklist, depending on its state.
func (ls *LinearScan) removeFromList(i *Interval) {
	var list *[]IntervalID
	switch i.state {
	case StateActive:
		list = &ls.active[anyKind]
	case StateInactive:
		list = &ls.inactive[anyKind]
	default:
		panic(fmt.Sprintf("BUG: removing %s interval %s from the worklists", i.state, i))
	}
	l := *list
	for index, id := range l {
		if id == i.id {
			*list = append(l[:index], l[index+1:]...)
			return
		}
	}
	panic(fmt.Sprintf("BUG: %s interval %s is not in its worklist", i.state, i))
}

func (ls *LinearScan) list(state IntervalState, kind intervalKind) *[]IntervalID {
	switch state {
	case StateUnhandled:
		return &ls.unhandled[kind]
	case StateActive:
		return &ls.active[kind]
	case StateInactive:
		return &ls.inactive[kind]
	default:
		panic(fmt.Sprintf("BUG: no worklist for %s intervals", state))
	}
}
