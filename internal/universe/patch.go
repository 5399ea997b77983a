package universe

// OutputPatch receives the post grand master frame of a universe on every
// dump, changed or not.
type OutputPatch interface {
	Dump(universe uint32, data []byte)
}

// FeedbackPatch receives single channel values sent back to a controller
// surface.
type FeedbackPatch interface {
	SendFeedback(universe, channel uint32, value uint8)
}

// InputHandler is called once per changed input channel.
type InputHandler func(universe, channel uint32, value uint8)

// InputPatch delivers inbound channel changes for one universe. Open must
// not invoke the handler synchronously.
type InputPatch interface {
	Open(handler InputHandler) error
	Close()
}
