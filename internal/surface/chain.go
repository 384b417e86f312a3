package surface

// Chain is an ordered list of delegates invoked in sequence for every signal.
// Nil entries are skipped.
type Chain []Delegate

func (c Chain) OnSignal(sig Signal) {
	for _, d := range c {
		if d != nil {
			d.OnSignal(sig)
		}
	}
}

// Then returns a chain that runs c first and d afterwards.
func (c Chain) Then(d Delegate) Chain {
	out := make(Chain, 0, len(c)+1)
	out = append(out, c...)
	return append(out, d)
}
