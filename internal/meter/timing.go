package meter

import "time"

// Timing holds every fixed delay and timeout used by the driver.
type Timing struct {
	ReadTimeout  time.Duration // poll-read window per step
	Settle       time.Duration // after each 1-phase ASCII command
	InterMessage time.Duration // between handshake and data command
	IRSettle     time.Duration // after the IR 3-phase command
	IRByteGap    time.Duration // between paced IR bytes
	BaudSettle   time.Duration // after a baud change
	PollInterval time.Duration // between receive polls
	InitHold     time.Duration // IRDA init: time spent at 2400 baud
	InitSettle   time.Duration // IRDA init: time after switching to 9600
}

// DefaultTiming returns the delays the meters were characterised with.
func DefaultTiming() Timing {
	return Timing{
		ReadTimeout:  2000 * time.Millisecond,
		Settle:       200 * time.Millisecond,
		InterMessage: 1500 * time.Millisecond,
		IRSettle:     500 * time.Millisecond,
		IRByteGap:    2 * time.Millisecond,
		BaudSettle:   50 * time.Millisecond,
		PollInterval: 1 * time.Millisecond,
		InitHold:     1000 * time.Millisecond,
		InitSettle:   100 * time.Millisecond,
	}
}

// Budget is the worst-case wall time of one read of entry.
func (t Timing) Budget(e Entry) time.Duration {
	total := t.BaudSettle
	switch e.Sequence {
	case SeqMulti:
		total += time.Duration(len(e.Commands)) * (t.Settle + t.ReadTimeout)
	case SeqHandshake:
		total += 2*t.ReadTimeout + t.InterMessage
	case SeqSolar:
		total += 3*t.ReadTimeout + 2*t.InterMessage
	case SeqDirect:
		n := 0
		for _, c := range e.Commands {
			n += len(c)
		}
		total += t.IRSettle + t.ReadTimeout + time.Duration(n)*t.IRByteGap
	}
	return total
}

func sleep(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}
