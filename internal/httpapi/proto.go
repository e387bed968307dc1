package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// maxRequestBody caps admin request bodies in either encoding.
	maxRequestBody = 64 << 10

	// maxDeviceBody caps device uploads.  Face and photo pushes carry
	// base64 images, so this is far larger than the admin limit.
	maxDeviceBody = 16 << 20

	protobufType = "application/x-protobuf"
)

// isProtobuf returns true if the request body is a protobuf Struct.
func isProtobuf(r *http.Request) bool {
	ct := mediaType(r.Header.Get("Content-Type"))
	return ct == protobufType || ct == "application/protobuf"
}

// wantsProtobuf returns true if the caller asked for a protobuf answer.
func wantsProtobuf(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		switch mediaType(part) {
		case protobufType, "application/protobuf":
			return true
		}
	}
	return false
}

func mediaType(v string) string {
	v, _, _ = strings.Cut(v, ";")
	return strings.ToLower(strings.TrimSpace(v))
}

// decodeBody reads a JSON object, or a google.protobuf.Struct carrying
// the same fields, into v.  An empty body yields io.EOF.
func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return io.EOF
	}

	if isProtobuf(r) {
		var st structpb.Struct
		if err := proto.Unmarshal(body, &st); err != nil {
			return fmt.Errorf("decode protobuf struct: %w", err)
		}
		if body, err = protojson.Marshal(&st); err != nil {
			return err
		}
	}

	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeResponse answers in the encoding the caller asked for.
func writeResponse(w http.ResponseWriter, r *http.Request, status int, v any) {
	if !wantsProtobuf(r) {
		writeJSON(w, status, v)
		return
	}
	msg, err := toStruct(v)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode_error", "could not encode response")
		return
	}
	writeProto(w, status, msg)
}

// toStruct converts v through its JSON form so field names match the
// JSON API.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// writeProto marshals msg and writes it with the given HTTP status.
func writeProto(w http.ResponseWriter, status int, msg proto.Message) {
	data, err := proto.Marshal(msg)
	if err != nil {
		// Fall back to a plain-text error if marshalling fails.
		http.Error(w, "proto marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", protobufType)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
