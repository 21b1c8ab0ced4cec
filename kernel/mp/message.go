package mp

// Kind identifies the content of a Message.
type Kind uint8

const (
	// KindNone marks an empty message.
	KindNone Kind = iota

	// KindBootCompleted is sent by an AP once its descriptor tables,
	// paging and heap are set up.
	KindBootCompleted

	// KindChar carries one character of AP console output in Value.
	KindChar

	// KindPing asks the receiving core to answer with KindPong.
	KindPing

	// KindPong answers a KindPing.
	KindPong

	// KindHalt asks an AP to leave its message loop and halt.
	KindHalt
)

// Message is the fixed-size value exchanged through a Mailbox.
type Message struct {
	Kind  Kind
	Value uint32
}

// Char returns a KindChar message for r.
func Char(r rune) Message {
	return Message{Kind: KindChar, Value: uint32(r)}
}

// Rune returns the character carried by a KindChar message.
func (m Message) Rune() rune {
	return rune(m.Value)
}
