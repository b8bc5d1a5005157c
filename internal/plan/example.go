package plan

import (
	_ "embed"
	"sync"
)

//go:embed example.json
var exampleJSON []byte

var loadExample = sync.OnceValue(func() TripPlan {
	p, err := Parse(exampleJSON)
	if err != nil {
		panic("plan: embedded example is invalid: " + err.Error())
	}
	return p
})

// Example returns the reference itinerary used as a one-shot exemplar when
// asking a model for structured output.
func Example() TripPlan {
	return loadExample().Clone()
}

// ExampleJSON returns the exemplar as JSON text.
func ExampleJSON() string {
	return string(exampleJSON)
}
