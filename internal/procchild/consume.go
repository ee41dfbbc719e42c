package procchild

// Sink receives the decoded event stream of one child. The registries
// implement Sink to capture output tails and latch the exit state.
type Sink interface {
	AppendStdout(line string)
	AppendStderr(line string)
	MarkExited(code int)
}

// Consume drains the child's events into sink on a new goroutine. It returns
// immediately; the goroutine ends when the event stream closes.
func Consume(c *Child, sink Sink) {
	if c == nil || sink == nil {
		return
	}
	go func() {
		for ev := range c.Events() {
			switch ev.Kind {
			case EventStdout:
				sink.AppendStdout(ev.Line)
			case EventStderr:
				sink.AppendStderr(ev.Line)
			case EventExited:
				sink.MarkExited(ev.Code)
			}
		}
	}()
}
