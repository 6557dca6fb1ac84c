package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// Flusher is satisfied by http.ResponseWriter and lets the bridge push
// each SSE record to the client immediately.
type Flusher interface {
	Flush()
}

// WriteSSE subscribes to task and streams its events to w as standard
// SSE ("event: <type>\ndata: <json>\n\n") records until a terminal event
// is delivered or ctx is cancelled (client disconnect). It always
// unsubscribes on return.
func WriteSSE(ctx context.Context, w io.Writer, flusher Flusher, task *Task) error {
	id, ch := task.Subscribe()
	defer task.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := writeEvent(w, ev); err != nil {
				return err
			}
			if flusher != nil {
				flusher.Flush()
			}
			switch ev.Type {
			case string(StatusDone), string(StatusError), string(StatusCancelled):
				return nil
			}
		}
	}
}

func writeEvent(w io.Writer, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
	return err
}
