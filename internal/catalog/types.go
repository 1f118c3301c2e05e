// Package catalog is the HTTP client for the remote catalog write API.
//
// The API exposes three entity kinds that form a strict hierarchy:
// Variant -> SpecificVariant -> Product. Every create endpoint answers with an
// envelope of the form {"data": {...}, "message": "..."}; a missing data
// payload is an application-level rejection, not a transport failure.
package catalog

import (
	"encoding/json"

	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Kind identifies a remote collection.
type Kind string

const (
	KindVariant         Kind = "variants"
	KindSpecificVariant Kind = "specific-variants"
	KindProduct         Kind = "products"
)

// CreateStatus tags the outcome of a create call.
type CreateStatus int

const (
	// Failed means the server answered without a created entity.
	Failed CreateStatus = iota
	// Created means the server created the entity and returned it.
	Created
	// AlreadyExists means the server reported a name conflict (HTTP 409).
	// Entity is set when the server included the existing record.
	AlreadyExists
)

func (s CreateStatus) String() string {
	switch s {
	case Created:
		return "created"
	case AlreadyExists:
		return "already_exists"
	default:
		return "failed"
	}
}

// CreateOutcome is the tagged result of a create call.
type CreateOutcome struct {
	Status  CreateStatus
	Entity  *Entity
	Message string
}

// Entity is the subset of a created record the pipeline needs.
type Entity struct {
	ID   string
	Name string
	Raw  json.RawMessage
}

// UnmarshalJSON accepts both "id" and Mongo-style "_id" identifiers.
func (e *Entity) UnmarshalJSON(b []byte) error {
	var aux struct {
		ID    string `json:"id"`
		Mongo string `json:"_id"`
		Name  string `json:"name"`
	}
	if err := jsonAPI.Unmarshal(b, &aux); err != nil {
		return err
	}
	e.ID = aux.ID
	if e.ID == "" {
		e.ID = aux.Mongo
	}
	e.Name = aux.Name
	e.Raw = append(e.Raw[:0], b...)
	return nil
}

// VariantInput is the create payload for a Variant.
type VariantInput struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
}

// SpecificVariantInput is the create payload for a SpecificVariant.
type SpecificVariantInput struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	VariantID   string `json:"variantId"`
}

// Dimensions describes a slab or tile size.
type Dimensions struct {
	Length    float64 `json:"length,omitempty"`
	Width     float64 `json:"width,omitempty"`
	Thickness float64 `json:"thickness,omitempty"`
	Unit      string  `json:"unit,omitempty"`
}

// ProductInput is the create payload for a Product.
type ProductInput struct {
	Name              string       `json:"name"`
	Description       string       `json:"description,omitempty"`
	BasePrice         float64      `json:"basePrice"`
	Stock             int          `json:"stock"`
	Unit              string       `json:"unit"`
	Status            string       `json:"status"`
	SpecificVariantID string       `json:"specificVariantId"`
	Finish            []string     `json:"finish"`
	Dimensions        []Dimensions `json:"dimensions"`
	Images            []string     `json:"images"`
	Applications      []string     `json:"applications"`
}

// envelope is the response shape shared by every endpoint.
type envelope struct {
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func (e envelope) hasData() bool {
	return len(e.Data) > 0 && string(e.Data) != "null"
}
