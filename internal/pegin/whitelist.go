package pegin

import "github.com/goatnetwork/peg-relayer/internal/types"

// Whitelist tracks the peg-in ceiling each source address needs. Ceilings
// only ever grow while the whitelist lives.
type Whitelist struct {
	multiple int64
	ceilings map[string]int64
	order    []string
}

func NewWhitelist(multiple int64) *Whitelist {
	return &Whitelist{
		multiple: multiple,
		ceilings: make(map[string]int64),
	}
}

// Observe records a peg-in of value from address and returns the address
// ceiling, value rounded up to the coin multiple or the previous ceiling if
// that was larger.
func (w *Whitelist) Observe(address string, value int64) int64 {
	rounded := types.RoundCoin(value, w.multiple)
	current, ok := w.ceilings[address]
	if !ok {
		w.order = append(w.order, address)
	}
	if rounded > current {
		w.ceilings[address] = rounded
		return rounded
	}
	return current
}

func (w *Whitelist) Ceiling(address string) (int64, bool) {
	v, ok := w.ceilings[address]
	return v, ok
}

// Addresses lists addresses in first-seen order.
func (w *Whitelist) Addresses() []string {
	return append([]string(nil), w.order...)
}

func (w *Whitelist) Len() int {
	return len(w.order)
}
