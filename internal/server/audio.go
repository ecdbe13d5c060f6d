package server

import (
	"encoding/binary"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// maxStreamMessage bounds a single WebSocket PCM push. One megabyte holds
// over 30 seconds of canonical audio per message.
const maxStreamMessage = 1 << 20

// handleEncode converts a WAV container into a compressed frame stream.
func (s *Server) handleEncode(w http.ResponseWriter, r *http.Request) {
	if !s.acquire(r) {
		return
	}
	defer s.release()

	body, ok := readBody(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	s.metrics.ActiveTranscodes.Add(ctx, 1)
	defer s.metrics.ActiveTranscodes.Add(ctx, -1)

	start := time.Now()
	stream, err := s.transcoder.Encode(ctx, body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.metrics.RecordTranscode(ctx, "encode", time.Since(start).Seconds(),
		countRecords(stream), int64(len(stream)))

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(stream)
}

// handleDecode converts a compressed frame stream back into a WAV container.
func (s *Server) handleDecode(w http.ResponseWriter, r *http.Request) {
	if !s.acquire(r) {
		return
	}
	defer s.release()

	body, ok := readBody(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	s.metrics.ActiveTranscodes.Add(ctx, 1)
	defer s.metrics.ActiveTranscodes.Add(ctx, -1)

	start := time.Now()
	container, err := s.transcoder.Decode(ctx, body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.metrics.RecordTranscode(ctx, "decode", time.Since(start).Seconds(),
		countRecords(body), int64(len(body)))

	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(container)
}

// handleStream runs a WebSocket streaming-encode session. Binary messages
// carry canonical PCM in arbitrary chunk sizes; each push answers with the
// records completed so far. The text message "flush" encodes the zero-padded
// tail, sends it, and closes the stream.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.acquire(r) {
		return
	}
	defer s.release()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		// Accept has already written the HTTP error response.
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxStreamMessage)

	ctx := r.Context()
	s.metrics.ActiveStreams.Add(ctx, 1)
	defer s.metrics.ActiveStreams.Add(ctx, -1)

	enc, err := s.transcoder.NewStream()
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "codec engine init failed")
		return
	}

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			// Client closed the socket or the request context ended.
			return
		}

		switch typ {
		case websocket.MessageBinary:
			if len(data)%2 != 0 {
				_ = conn.Close(websocket.StatusUnsupportedData, "pcm payload must be whole 16-bit samples")
				return
			}
			start := time.Now()
			records, err := enc.Write(ctx, data)
			if err != nil {
				_ = conn.Close(websocket.StatusInternalError, "encode failed")
				return
			}
			if len(records) == 0 {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageBinary, records); err != nil {
				return
			}
			s.metrics.RecordTranscode(ctx, "encode", time.Since(start).Seconds(),
				countRecords(records), int64(len(records)))

		case websocket.MessageText:
			if string(data) != "flush" {
				_ = conn.Close(websocket.StatusUnsupportedData, "unknown command")
				return
			}
			start := time.Now()
			tail, err := enc.Flush(ctx)
			if err != nil {
				_ = conn.Close(websocket.StatusInternalError, "flush failed")
				return
			}
			if len(tail) > 0 {
				if err := conn.Write(ctx, websocket.MessageBinary, tail); err != nil {
					return
				}
				s.metrics.RecordTranscode(ctx, "encode", time.Since(start).Seconds(),
					countRecords(tail), int64(len(tail)))
			}
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}

// countRecords walks an already-validated frame stream and returns how many
// length-prefixed records it holds.
func countRecords(stream []byte) int64 {
	var n int64
	for off := 0; off+4 <= len(stream); n++ {
		l := int(binary.LittleEndian.Uint32(stream[off:]))
		off += 4 + l
	}
	return n
}
