package decision

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ResponseShape tags the envelope a provider answered with.
type ResponseShape int

const (
	ShapeUnknown ResponseShape = iota
	// ShapeDecisionsObject is {"decisions":[...], ...}.
	ShapeDecisionsObject
	// ShapeBareArray is [...].
	ShapeBareArray
	// ShapeSingleObject is one decision object at the root.
	ShapeSingleObject
	// ShapeActionsObject is the Ollama-style {"actions":[...],"analysis":"..."}.
	ShapeActionsObject
)

func (s ResponseShape) String() string {
	switch s {
	case ShapeDecisionsObject:
		return "decisions_object"
	case ShapeBareArray:
		return "bare_array"
	case ShapeSingleObject:
		return "single_object"
	case ShapeActionsObject:
		return "actions_object"
	default:
		return "unknown"
	}
}

// Envelope is a provider response reduced to its items and optional commentary.
type Envelope struct {
	Shape    ResponseShape
	Items    []gjson.Result
	Analysis string
}

// shapeAdapter pulls items out of one envelope variant. Fields outside the
// item list and the analysis text are dropped.
type shapeAdapter func(root gjson.Result) (Envelope, error)

var shapeAdapters = map[ResponseShape]shapeAdapter{
	ShapeDecisionsObject: listUnder("decisions", ShapeDecisionsObject),
	ShapeActionsObject:   listUnder("actions", ShapeActionsObject),
	ShapeBareArray: func(root gjson.Result) (Envelope, error) {
		return Envelope{Shape: ShapeBareArray, Items: root.Array()}, nil
	},
	ShapeSingleObject: func(root gjson.Result) (Envelope, error) {
		return Envelope{Shape: ShapeSingleObject, Items: []gjson.Result{root}}, nil
	},
}

func listUnder(key string, shape ResponseShape) shapeAdapter {
	return func(root gjson.Result) (Envelope, error) {
		list := root.Get(key)
		if !list.IsArray() {
			return Envelope{}, fmt.Errorf("%w: %s must be an array", ErrUnrecognizedShape, key)
		}
		env := Envelope{Shape: shape, Items: list.Array()}
		for _, k := range []string{"analysis", "summary", "market_analysis"} {
			if v := root.Get(k); v.Exists() && v.Type == gjson.String {
				env.Analysis = strings.TrimSpace(v.String())
				break
			}
		}
		return env, nil
	}
}

// DetectShape classifies the root of a provider JSON document.
func DetectShape(root gjson.Result) ResponseShape {
	switch {
	case root.IsArray():
		return ShapeBareArray
	case !root.IsObject():
		return ShapeUnknown
	case root.Get("decisions").Exists():
		return ShapeDecisionsObject
	case root.Get("actions").Exists():
		return ShapeActionsObject
	case root.Get("action").Exists():
		return ShapeSingleObject
	default:
		return ShapeUnknown
	}
}

// Normalize turns a raw JSON document into an Envelope. A structural failure
// here disqualifies the whole response.
func Normalize(doc string) (Envelope, error) {
	doc = strings.TrimSpace(doc)
	if doc == "" {
		return Envelope{}, fmt.Errorf("%w: empty document", ErrUnrecognizedShape)
	}
	if !gjson.Valid(doc) {
		return Envelope{}, fmt.Errorf("%w: invalid json", ErrUnrecognizedShape)
	}
	root := gjson.Parse(doc)
	shape := DetectShape(root)
	adapter, ok := shapeAdapters[shape]
	if !ok {
		return Envelope{}, fmt.Errorf("%w: no decisions, actions or action field", ErrUnrecognizedShape)
	}
	return adapter(root)
}
