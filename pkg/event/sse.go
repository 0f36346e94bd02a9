package event

import (
	"encoding/json"
	"fmt"
	"io"
)

// WriteSSE frames one event as a server-sent-events data record.
// The caller is responsible for flushing.
func WriteSSE(w io.Writer, e *Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}
