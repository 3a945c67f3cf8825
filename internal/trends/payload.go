package trends

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrInvalidPayload is returned for ingest bodies that match no known shape
	ErrInvalidPayload = errors.New("invalid ingest payload")

	// ErrEmptyBatch is returned when a payload carries no topics
	ErrEmptyBatch = errors.New("no topics in request body")
)

// PayloadShape names which of the accepted ingest layouts a body used
type PayloadShape string

const (
	ShapeArray  PayloadShape = "array"  // [ {...}, ... ]
	ShapeTopics PayloadShape = "topics" // {"topics": [ ... ]}
	ShapeData   PayloadShape = "data"   // {"data": [ ... ]}
)

// Payload is a validated ingest body
type Payload struct {
	Shape        PayloadShape
	Observations []Observation
}

// observationInput mirrors Observation with optional fields distinguishable
type observationInput struct {
	Query              *string    `json:"query"`
	SearchVolume       *float64   `json:"searchVolume"`
	IncreasePercentage *float64   `json:"increasePercentage"`
	Categories         []Category `json:"categories"`
	TrendBreakdown     []string   `json:"trendBreakdown"`
	Active             *bool      `json:"active"`
}

// ParsePayload decodes an ingest body. Exactly three layouts are accepted:
// a bare array, an object with a "topics" array, or an object with a "data"
// array. Any other layout, or an invalid observation, is rejected.
func ParsePayload(body []byte) (*Payload, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidPayload)
	}

	var (
		shape PayloadShape
		raw   []json.RawMessage
	)

	switch trimmed[0] {
	case '[':
		shape = ShapeArray
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	case '{':
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		topics, hasTopics := envelope["topics"]
		data, hasData := envelope["data"]
		switch {
		case hasTopics && hasData:
			return nil, fmt.Errorf("%w: both \"topics\" and \"data\" present", ErrInvalidPayload)
		case hasTopics:
			shape = ShapeTopics
			if err := json.Unmarshal(topics, &raw); err != nil {
				return nil, fmt.Errorf("%w: \"topics\" is not an array", ErrInvalidPayload)
			}
		case hasData:
			shape = ShapeData
			if err := json.Unmarshal(data, &raw); err != nil {
				return nil, fmt.Errorf("%w: \"data\" is not an array", ErrInvalidPayload)
			}
		default:
			return nil, fmt.Errorf("%w: expected \"topics\" or \"data\" array", ErrInvalidPayload)
		}
	default:
		return nil, fmt.Errorf("%w: expected JSON array or object", ErrInvalidPayload)
	}

	if len(raw) == 0 {
		return nil, ErrEmptyBatch
	}

	observations := make([]Observation, 0, len(raw))
	for i, item := range raw {
		obs, err := decodeObservation(item)
		if err != nil {
			return nil, fmt.Errorf("%w: topic %d: %v", ErrInvalidPayload, i, err)
		}
		observations = append(observations, obs)
	}

	return &Payload{Shape: shape, Observations: observations}, nil
}

func decodeObservation(item json.RawMessage) (Observation, error) {
	var in observationInput
	if err := json.Unmarshal(item, &in); err != nil {
		return Observation{}, err
	}

	if in.Query == nil {
		return Observation{}, errors.New("missing query")
	}
	obs := Observation{
		Query:          strings.TrimSpace(*in.Query),
		Categories:     in.Categories,
		TrendBreakdown: in.TrendBreakdown,
		Active:         true,
	}
	if in.SearchVolume != nil {
		v, err := wholeNumber("searchVolume", *in.SearchVolume)
		if err != nil {
			return Observation{}, err
		}
		obs.SearchVolume = v
	}
	if in.IncreasePercentage != nil {
		obs.IncreasePercentage = *in.IncreasePercentage
	}
	if in.Active != nil {
		obs.Active = *in.Active
	}
	if obs.Categories == nil {
		obs.Categories = []Category{}
	}
	if obs.TrendBreakdown == nil {
		obs.TrendBreakdown = []string{}
	}

	return obs, obs.Validate()
}

// wholeNumber converts a decoded JSON number to int64, rejecting fractions
// and values outside the int64 range.
func wholeNumber(field string, v float64) (int64, error) {
	if v != math.Trunc(v) {
		return 0, fmt.Errorf("%s %g is not a whole number", field, v)
	}
	if v < math.MinInt64 || v >= math.MaxInt64 {
		return 0, fmt.Errorf("%s %g is out of range", field, v)
	}
	return int64(v), nil
}

// Validate checks the fields an observation must carry
func (o Observation) Validate() error {
	if strings.TrimSpace(o.Query) == "" {
		return errors.New("query is empty")
	}
	if o.SearchVolume < 0 {
		return fmt.Errorf("searchVolume %d is negative", o.SearchVolume)
	}
	if o.IncreasePercentage < 0 {
		return fmt.Errorf("increasePercentage %g is negative", o.IncreasePercentage)
	}
	return nil
}
