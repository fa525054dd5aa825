package client

import "time"

// eventBatcher coalesces bursts of server events arriving within
// redrawCoalesceWindow into a single batch, so Update/View runs once
// per burst instead of once per event (§4.6: "Redraw. Coalesced:
// multiple state changes within 16 ms trigger one redraw").
type eventBatcher struct {
	out chan []Event
}

func newEventBatcher(events <-chan Event) *eventBatcher {
	b := &eventBatcher{out: make(chan []Event, 64)}
	go b.run(events)
	return b
}

func (b *eventBatcher) run(events <-chan Event) {
	defer close(b.out)

	var pending []Event
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(pending) == 0 {
			return
		}
		b.out <- pending
		pending = nil
	}

	for {
		select {
		case e, ok := <-events:
			if !ok {
				flush()
				return
			}
			pending = append(pending, e)
			if timer == nil {
				timer = time.NewTimer(redrawCoalesceWindow)
				timerC = timer.C
			}
		case <-timerC:
			flush()
			timer = nil
			timerC = nil
		}
	}
}

// redrawCoalesceWindow is the 16 ms coalescing window from §4.6.
const redrawCoalesceWindow = 16 * time.Millisecond
