// Package translator maintains the registry of wire-format translation
// functions. Pairs register themselves at init time keyed by (source format,
// target format), where the source is the dialect the client speaks and the
// target is the dialect of the upstream provider. Response functions
// registered under the same key translate provider output back into the
// client dialect.
package translator

import (
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/modelgate/modelgate/internal/apierror"
	"github.com/modelgate/modelgate/internal/constant"
	"github.com/modelgate/modelgate/internal/sse"
)

// State accumulates stream translation context across the events of one
// upstream response. A fresh State is created per dispatch attempt; content
// and tool-call indexes start at -1 and are advanced by the translators.
type State struct {
	ResponseID    string
	Model         string
	Created       int64
	ContentIndex  int
	ToolCallIndex int
	SentRole      bool
	InputTokens   int64
}

// RequestFunc transforms a request body from the source dialect into the
// target dialect. modelName is the resolved upstream model identifier.
type RequestFunc func(modelName string, rawJSON []byte, stream bool) ([]byte, error)

// StreamFunc transforms one upstream stream event into zero or more output
// lines. Each line is either a JSON document to be framed as `data:` or the
// [DONE] sentinel. eventName is empty when the upstream block carried no
// `event:` field.
type StreamFunc func(modelName string, originalReq []byte, eventName string, rawJSON []byte, state *State) ([]string, error)

// NonStreamFunc transforms a complete upstream response body into the client
// dialect.
type NonStreamFunc func(modelName string, originalReq, rawJSON []byte) (string, error)

// Response bundles the stream and non-stream response translators of a pair.
type Response struct {
	Stream    StreamFunc
	NonStream NonStreamFunc
}

var (
	requests  map[constant.Format]map[constant.Format]RequestFunc
	responses map[constant.Format]map[constant.Format]Response
)

func init() {
	requests = make(map[constant.Format]map[constant.Format]RequestFunc)
	responses = make(map[constant.Format]map[constant.Format]Response)
}

// Register installs a translation pair. from is the client dialect, to the
// provider dialect; response translates to -> from.
func Register(from, to constant.Format, request RequestFunc, response Response) {
	log.Debugf("registering translator from %s to %s", from, to)
	if _, ok := requests[from]; !ok {
		requests[from] = make(map[constant.Format]RequestFunc)
	}
	requests[from][to] = request

	if _, ok := responses[from]; !ok {
		responses[from] = make(map[constant.Format]Response)
	}
	responses[from][to] = response
}

// Request translates a request body for the target provider. When the source
// and target dialects match only the model field is replaced, so aliases
// still resolve to real upstream identifiers. Unregistered pairs pass the
// body through untouched.
func Request(from, to constant.Format, modelName string, rawJSON []byte, stream bool) ([]byte, error) {
	if from == to {
		return replaceModel(rawJSON, modelName)
	}
	if request, ok := requests[from][to]; ok {
		return request(modelName, rawJSON, stream)
	}
	return rawJSON, nil
}

// Stream translates one upstream stream event back into the client dialect.
// Same-dialect and unregistered pairs pass the event through untouched; the
// [DONE] sentinel always survives so translated streams terminate.
func Stream(from, to constant.Format, modelName string, originalReq []byte, eventName string, rawJSON []byte, state *State) ([]string, error) {
	if from == to {
		return []string{string(rawJSON)}, nil
	}
	if string(rawJSON) == sse.Done {
		return []string{sse.Done}, nil
	}
	if response, ok := responses[from][to]; ok {
		return response.Stream(modelName, originalReq, eventName, rawJSON, state)
	}
	return []string{string(rawJSON)}, nil
}

// NonStream translates a complete upstream response body back into the
// client dialect, passing it through for same-dialect and unregistered
// pairs.
func NonStream(from, to constant.Format, modelName string, originalReq, rawJSON []byte) (string, error) {
	if from == to {
		return string(rawJSON), nil
	}
	if response, ok := responses[from][to]; ok {
		return response.NonStream(modelName, originalReq, rawJSON)
	}
	return string(rawJSON), nil
}

// NeedTranslate reports whether responses from the target dialect must be
// translated before returning to the client.
func NeedTranslate(from, to constant.Format) bool {
	if from == to {
		return false
	}
	_, ok := responses[from][to]
	return ok
}

// replaceModel substitutes the model field of an object payload, leaving
// bodies without one untouched.
func replaceModel(rawJSON []byte, modelName string) ([]byte, error) {
	if !gjson.ValidBytes(rawJSON) {
		return nil, apierror.Translation("request body is not valid JSON")
	}
	root := gjson.ParseBytes(rawJSON)
	if !root.IsObject() || !root.Get("model").Exists() {
		return rawJSON, nil
	}
	out, err := sjson.SetBytes(rawJSON, "model", modelName)
	if err != nil {
		return nil, apierror.Translation("replace model: %v", err)
	}
	return out, nil
}
