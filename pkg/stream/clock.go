package stream

import "time"

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type timer interface {
	C() <-chan time.Time
	Stop() bool
}

type clock interface {
	Now() time.Time
	NewTicker(d time.Duration) ticker
	NewTimer(d time.Duration) timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) ticker { return realTicker{time.NewTicker(d)} }

func (realClock) NewTimer(d time.Duration) timer { return realTimer{time.NewTimer(d)} }

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

type realTimer struct{ t *time.Timer }

func (r realTimer) C() <-chan time.Time { return r.t.C }
func (r realTimer) Stop() bool          { return r.t.Stop() }

func tickC(t ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C()
}

func timerC(t timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C()
}
