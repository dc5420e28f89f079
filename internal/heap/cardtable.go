package heap

// CardTable records, one byte per CardSize heap bytes, which regions have
// seen reference stores since the last clear. The generated write barrier
// dirties cards; the collector scans them to find cross-space pointers.
type CardTable struct {
	cards []byte
}

func newCardTable(capacity uint32) *CardTable {
	return &CardTable{cards: make([]byte, (capacity+CardSize-1)/CardSize)}
}

// Mark dirties the card covering addr.
func (c *CardTable) Mark(addr uint32) { c.cards[addr>>CardShift] = CardDirty }

// IsDirty reports whether the card covering addr is dirty.
func (c *CardTable) IsDirty(addr uint32) bool { return c.cards[addr>>CardShift] != CardClean }

// ClearAll resets every card.
func (c *CardTable) ClearAll() {
	for i := range c.cards {
		c.cards[i] = CardClean
	}
}

// ScanDirty invokes fn with the address range of every dirty card
// intersecting [begin, end), clearing each card as it goes.
func (c *CardTable) ScanDirty(begin, end uint32, fn func(cardBegin, cardEnd uint32)) {
	for card := begin >> CardShift; card <= (end-1)>>CardShift; card++ {
		if c.cards[card] == CardClean {
			continue
		}
		c.cards[card] = CardClean
		lo := card << CardShift
		hi := lo + CardSize
		if lo < begin {
			lo = begin
		}
		if hi > end {
			hi = end
		}
		fn(lo, hi)
	}
}
