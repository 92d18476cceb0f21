package stub

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/tychoish/mongosvc/wire"
	"go.mongodb.org/mongo-driver/bson"
)

// Request is the server side view of a request document.
type Request struct {
	Database      string   `bson:"database"`
	Collection    string   `bson:"collection"`
	Document      bson.Raw `bson:"document"`
	Action        string   `bson:"action"`
	Options       bson.Raw `bson:"options,omitempty"`
	Metadata      bson.Raw `bson:"metadata,omitempty"`
	CorrelationID string   `bson:"correlationId,omitempty"`
	SkipVersion   bool     `bson:"skipVersion,omitempty"`
	SkipMetric    bool     `bson:"skipMetric,omitempty"`
}

// ParseRequest decodes a request frame.
func ParseRequest(raw bson.Raw) (*Request, error) {
	req := &Request{}
	if err := bson.Unmarshal(raw, req); err != nil {
		return nil, errors.Wrap(err, "decoding request")
	}
	return req, nil
}

// WriteResponse encodes doc and writes it as a single frame.
func WriteResponse(ctx context.Context, w io.Writer, doc any) error {
	out, err := bson.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "encoding response")
	}

	return errors.Wrap(wire.WriteFrame(ctx, w, out), "writing response")
}

// WriteErrorResponse answers with {error: <message>}, the shape the
// mongo service uses to report failures.
func WriteErrorResponse(ctx context.Context, w io.Writer, err error) error {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return WriteResponse(ctx, w, bson.D{{Key: "error", Value: msg}})
}

// Respond adapts a function that builds a response document into a
// HandlerFunc. Errors from fn are reported to the client as error
// responses. A response that cannot be encoded is reported both to the
// client and to the caller.
func Respond(fn func(ctx context.Context, req *Request) (any, error)) HandlerFunc {
	return func(ctx context.Context, w io.Writer, raw bson.Raw) error {
		req, err := ParseRequest(raw)
		if err != nil {
			return WriteErrorResponse(ctx, w, err)
		}

		resp, err := fn(ctx, req)
		if err != nil {
			return WriteErrorResponse(ctx, w, err)
		}

		out, err := bson.Marshal(resp)
		if err != nil {
			err = errors.Wrapf(err, "encoding %s response", req.Action)
			if werr := WriteErrorResponse(ctx, w, err); werr != nil {
				return errors.Wrapf(werr, "reporting failure [%s]", err)
			}
			return err
		}

		return errors.Wrap(wire.WriteFrame(ctx, w, out), "writing response")
	}
}
