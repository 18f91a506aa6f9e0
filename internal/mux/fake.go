package mux

import "context"

// Fake is an in-memory Mux for tests: no subprocesses, no timing.
type Fake struct {
	AliveSessions map[string]bool
	Panes         map[string]string
	Sent          map[string][]string
	Enters        map[string]int
}

// NewFake returns an empty Fake with all maps initialized.
func NewFake() *Fake {
	return &Fake{
		AliveSessions: map[string]bool{},
		Panes:         map[string]string{},
		Sent:          map[string][]string{},
		Enters:        map[string]int{},
	}
}

func (f *Fake) Alive(_ context.Context, session string) bool {
	return f.AliveSessions[session]
}

func (f *Fake) CaptureTail(_ context.Context, session string, _ int) (string, bool) {
	if !f.AliveSessions[session] {
		return "", false
	}
	return f.Panes[session], true
}

func (f *Fake) SendText(_ context.Context, session, text string) error {
	f.Sent[session] = append(f.Sent[session], text)
	return nil
}

func (f *Fake) PressEnter(_ context.Context, session string) error {
	f.Enters[session]++
	return nil
}
