package bus

import (
	"encoding/json"
	"io"

	"github.com/valyala/bytebufferpool"
)

// WriteSSE writes n as one server-sent event frame.
func WriteSSE(w io.Writer, n Notification) error {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)

	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	bb.WriteString("event: ")
	bb.WriteString(n.Type)
	bb.WriteString("\ndata: ")
	bb.Write(data)
	bb.WriteString("\n\n")
	_, err = bb.WriteTo(w)
	return err
}

// WriteComment writes an SSE comment line, used as a keep-alive.
func WriteComment(w io.Writer, text string) error {
	_, err := io.WriteString(w, ": "+text+"\n\n")
	return err
}
