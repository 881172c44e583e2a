package compress

// Mode selects the per-message compression a Publisher applies before
// sending and a Subscriber applies (or does not) before dispatch.
type Mode int

const (
	// None sends the payload unmodified.
	None Mode = iota
	// Zlib is a generic, reversible transform; both sides understand it.
	Zlib
	// JPEG is meaningful only when the payload was built by
	// EncodeImageMessage. There is no subscriber-side JPEG decoder: image
	// subscribers decode in the application layer.
	JPEG
)

func (m Mode) String() string {
	switch m {
	case None:
		return "none"
	case Zlib:
		return "zlib"
	case JPEG:
		return "jpeg"
	default:
		return "unknown"
	}
}
