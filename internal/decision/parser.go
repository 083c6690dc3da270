package decision

import (
	"errors"
	"fmt"

	"phinance/internal/pkg/jsonutil"
	"phinance/internal/types"
)

// ParseResult is the usable part of one provider answer.
type ParseResult struct {
	Shape     ResponseShape
	Analysis  string
	Proposals []types.Proposal
	// Malformed holds one *MalformedItemError per dropped item.
	Malformed []error
}

// NormalizeText locates the JSON document inside free text and normalizes it.
func NormalizeText(raw string) (Envelope, error) {
	block, ok := jsonutil.ExtractJSON(raw)
	if !ok {
		return Envelope{}, fmt.Errorf("%w: no json found", ErrUnrecognizedShape)
	}
	return Normalize(block)
}

// ParseEnvelope adapts every item; bad items are collected, not fatal.
func ParseEnvelope(env Envelope) (ParseResult, error) {
	res := ParseResult{Shape: env.Shape, Analysis: env.Analysis}
	for i, item := range env.Items {
		p, err := adaptItem(i+1, item.Raw)
		if err != nil {
			if errors.Is(err, ErrMalformedProviderResponse) {
				res.Malformed = append(res.Malformed, err)
				continue
			}
			return res, err
		}
		res.Proposals = append(res.Proposals, p)
	}
	return res, nil
}

// ParseResponse is NormalizeText followed by ParseEnvelope.
func ParseResponse(raw string) (ParseResult, error) {
	env, err := NormalizeText(raw)
	if err != nil {
		return ParseResult{}, err
	}
	return ParseEnvelope(env)
}
